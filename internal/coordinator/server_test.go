package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rangedir/internal/client"
	"github.com/dreamware/rangedir/internal/keyrange"
	"github.com/dreamware/rangedir/internal/protocol"
	"github.com/dreamware/rangedir/internal/transport"
)

func TestServerHandle(t *testing.T) {
	s := NewServer(NewDirectory([]string{"node1", "node2"}, "node1", nil), nil)
	ctx := context.Background()

	tests := []struct {
		line      string
		want      string
		wantClose bool
	}{
		{line: "seekKey kiwi", want: "ok node1 a-z"},
		{line: "seekHost bogus", want: "nok unkonwn_command!"},
		{line: "seekHost x-aca-z", want: "nok unkonwn_command!"},
		{line: "register bogus", want: "nok unkonwn_command!"},
		{line: "register my-sa-z", want: "nok unkonwn_command!"},
		{line: "seekHost ma-z", want: "ok node2"},
		{line: "seekHost ga-m", want: "nok"},
		{line: "register ma-z", want: "ok"},
		{line: "register ma-z", want: "nok"},
		{line: "seekKey kiwi", want: "ok node1 a-m"},
		{line: "seekKey zebra", want: "ok node2 ma-z"},
		{line: "lookup kiwi", want: "nok unkonwn_command!"},
		{line: "dance", want: "nok unkonwn_command!"},
		{line: "shutdown", want: "ok", wantClose: true},
	}
	for _, tt := range tests {
		got, closeConn := s.Handle(ctx, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
		assert.Equal(t, tt.wantClose, closeConn, tt.line)
	}
}

func TestServerOverTCP(t *testing.T) {
	s := NewServer(NewDirectory([]string{"node1", "node2"}, "node1", nil), nil)
	srv, err := s.Listen("127.0.0.1:0", 4)
	require.NoError(t, err)
	go func() { _ = srv.Serve(context.Background()) }()
	defer srv.Close()

	c := client.NewCoordinatorClient(srv.Addr(), transport.DialPolicy{Attempts: 3, Delay: 10 * time.Millisecond}, nil)
	defer c.Close()
	ctx := context.Background()

	upper := keyrange.MustNew("na", "z")
	host, err := c.SeekHost(ctx, upper)
	require.NoError(t, err)
	assert.Equal(t, "node2", host)

	_, err = c.SeekHost(ctx, keyrange.MustNew("ga", "n"))
	assert.ErrorIs(t, err, client.ErrNoFreeHost)

	require.NoError(t, c.Register(ctx, upper))

	owner, r, err := c.SeekKey(ctx, "orange")
	require.NoError(t, err)
	assert.Equal(t, "node2", owner)
	assert.Equal(t, upper, r)

	assert.Len(t, s.Directory().LinkedHosts(), 2)

	_, _, err = c.SeekKey(ctx, "0zero")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestServerMalformedRangeIsNotExhaustion(t *testing.T) {
	s := NewServer(NewDirectory([]string{"node1", "node2"}, "node1", nil), nil)
	srv, err := s.Listen("127.0.0.1:0", 2)
	require.NoError(t, err)
	go func() { _ = srv.Serve(context.Background()) }()
	defer srv.Close()

	conn := transport.NewConn(srv.Addr(), transport.DialPolicy{Attempts: 3, Delay: 10 * time.Millisecond}, nil)
	defer conn.Close()

	for _, line := range []string{"seekHost x-aca-z", "register my-sa-z"} {
		reply, err := conn.Call(context.Background(), line)
		require.NoError(t, err)
		rerr := &protocol.RemoteError{Response: reply}
		assert.ErrorIs(t, rerr, protocol.ErrUnknownCommand, line)
		assert.NotErrorIs(t, rerr, protocol.ErrNotFound, line)
	}

	for _, rec := range s.Directory().Snapshot()[1:] {
		assert.True(t, rec.Free(), "%s must stay free", rec.Host)
	}
}
