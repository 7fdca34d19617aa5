// Package endpoint encodes the values applications publish in the
// directory: where a named port can be reached.
//
//	socket=<host>:<port>   a plain TCP endpoint
//	rmi=<host>             a host running an object registry
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalid is returned for values that are neither form.
var ErrInvalid = errors.New("invalid connection data")

// Type is the kind of endpoint.
type Type string

const (
	Socket Type = "socket"
	RMI    Type = "rmi"
)

// ConnectionData says how to reach a published port.
type ConnectionData struct {
	Type Type
	Host string
	// Port is zero for RMI endpoints.
	Port int
}

// NewSocket returns a socket endpoint.
func NewSocket(host string, port int) ConnectionData {
	return ConnectionData{Type: Socket, Host: host, Port: port}
}

// NewRMI returns an RMI endpoint.
func NewRMI(host string) ConnectionData {
	return ConnectionData{Type: RMI, Host: host}
}

// Parse decodes a directory value.
func Parse(value string) (ConnectionData, error) {
	kind, rest, ok := strings.Cut(value, "=")
	if !ok || rest == "" {
		return ConnectionData{}, fmt.Errorf("%w: %q", ErrInvalid, value)
	}
	switch Type(kind) {
	case RMI:
		return NewRMI(rest), nil
	case Socket:
		host, portStr, err := net.SplitHostPort(rest)
		if err != nil {
			return ConnectionData{}, fmt.Errorf("%w: %q: %v", ErrInvalid, value, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return ConnectionData{}, fmt.Errorf("%w: bad port in %q", ErrInvalid, value)
		}
		return NewSocket(host, port), nil
	}
	return ConnectionData{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, kind)
}

// String encodes the endpoint as a directory value.
func (c ConnectionData) String() string {
	if c.Type == RMI {
		return string(RMI) + "=" + c.Host
	}
	return string(Socket) + "=" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns host:port for socket endpoints and the bare host otherwise.
func (c ConnectionData) Addr() string {
	if c.Type == Socket {
		return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return c.Host
}
