package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rangedir/internal/keyrange"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Command
		wantErr error
	}{
		{name: "lookup", line: "lookup alpha", want: NewCommand(CmdLookup, "alpha")},
		{name: "put", line: "put alpha socket=h:1", want: NewCommand(CmdPut, "alpha", "socket=h:1")},
		{name: "remove", line: "remove alpha", want: NewCommand(CmdRemove, "alpha")},
		{name: "shutdown", line: "shutdown", want: Command{Name: CmdShutdown, Args: []string{}}},
		{name: "register", line: "register aca-z", want: NewCommand(CmdRegister, "aca-z")},
		{name: "extra whitespace", line: "  seekKey   k \r", want: NewCommand(CmdSeekKey, "k")},
		{name: "unknown", line: "get k", wantErr: ErrUnknownCommand},
		{name: "missing value", line: "put k", wantErr: ErrMalformed},
		{name: "too many fields", line: "lookup a b", wantErr: ErrMalformed},
		{name: "empty", line: "", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, len(tt.want.Args), len(got.Args))
			for i := range tt.want.Args {
				assert.Equal(t, tt.want.Args[i], got.Arg(i))
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "put k v", NewCommand(CmdPut, "k", "v").String())
	assert.Equal(t, "shutdown", NewCommand(CmdShutdown).String())
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"alpha", true},
		{"a54", true},
		{"ALPHA", true},
		{"", false},
		{"two words", false},
		{"x-aa", false},
		{"-", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidKey(tt.key), "%q", tt.key)
	}
	assert.True(t, ValidToken("x-aa"), "values may carry the separator")
}

func TestResponses(t *testing.T) {
	assert.Equal(t, "ok", OK())
	assert.Equal(t, "ok host a-z", OK("host", "a-z"))
	assert.Equal(t, "nok", Nok(""))
	assert.Equal(t, "nok bound!", Nok(ReasonBound))

	resp, err := ParseResponse("ok value")
	require.NoError(t, err)
	assert.True(t, resp.IsOK())
	assert.Equal(t, "value", resp.Value())

	_, err = ParseResponse("maybe")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRemoteErrorUnwrap(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"nok", ErrNotFound},
		{"nok bound!", ErrBound},
		{"nok not_bound!", ErrNotBound},
		{"nok unkonwn_command!", ErrUnknownCommand},
		{"nok uncovered!", ErrUncovered},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var err error = &RemoteError{Response: tt.line}
			assert.True(t, errors.Is(err, tt.want))
			assert.Contains(t, err.Error(), tt.line)
		})
	}
}

func TestSyncNotice(t *testing.T) {
	n := SyncNotice{
		Range:      keyrange.MustNew("a", "ac"),
		Owner:      "10.0.0.2:55252",
		OwnerRange: keyrange.MustNew("aca", "z"),
	}
	line := n.String()
	assert.Equal(t, "sync a-ac 10.0.0.2:55252 aca-z", line)

	got, err := ParseSync(line)
	require.NoError(t, err)
	assert.Equal(t, n, got)

	_, err = ParseSync("sync a-ac host")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseSync("sync a-ac host z-a")
	assert.ErrorIs(t, err, ErrMalformed)
}
