// Package protocol implements the line-based text protocol spoken between
// routers, shards and the coordinator.
//
// Every message is one line; fields are separated by single spaces. Requests
// start with a command name, responses start with "ok", "nok" or "sync".
//
//	lookup <key>          ok <value>  | nok
//	put <key> <value>     ok          | nok bound!
//	remove <key>          ok          | nok not_bound!
//	shutdown              ok (then the connection closes)
//	any, key not owned    sync <my-range> <owner-host> <owner-range>
//	unrecognized          nok unkonwn_command!
//
//	seekHost <range>      ok <hostname>          | nok
//	seekKey <key>         ok <hostname> <range>  | nok
//	register <range>      ok                     | nok
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/rangedir/internal/keyrange"
)

// Command names.
const (
	CmdLookup   = "lookup"
	CmdPut      = "put"
	CmdRemove   = "remove"
	CmdShutdown = "shutdown"

	CmdSeekHost = "seekHost"
	CmdSeekKey  = "seekKey"
	CmdRegister = "register"
)

// Response heads.
const (
	HeadOK   = "ok"
	HeadNok  = "nok"
	HeadSync = "sync"
)

// Failure reasons carried after "nok". ReasonUnknownCommand keeps the historical
// spelling used on the wire.
const (
	ReasonBound          = "bound!"
	ReasonNotBound       = "not_bound!"
	ReasonUnknownCommand = "unkonwn_command!"
	ReasonUncovered      = "uncovered!"
)

var (
	// ErrNotFound is a bare "nok" answer: the lookup key is not bound, or the
	// coordinator has nothing to offer.
	ErrNotFound = errors.New("not found")

	// ErrBound answers a put on a key that already has a value.
	ErrBound = errors.New("key already bound")

	// ErrNotBound answers a remove on a key that has no value.
	ErrNotBound = errors.New("key not bound")

	// ErrUnknownCommand answers an unrecognized or malformed command.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUncovered answers a request for a key no linked shard owns.
	ErrUncovered = errors.New("key not covered by any shard")

	// ErrMalformed is returned when a line cannot be decoded.
	ErrMalformed = errors.New("malformed message")
)

var arity = map[string]int{
	CmdLookup:   1,
	CmdPut:      2,
	CmdRemove:   1,
	CmdShutdown: 0,
	CmdSeekHost: 1,
	CmdSeekKey:  1,
	CmdRegister: 1,
}

// Command is a decoded request line.
type Command struct {
	Name string
	Args []string
}

// NewCommand builds a command from its name and arguments.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// ParseCommand decodes a request line. Unknown command names yield
// ErrUnknownCommand, a wrong number of fields yields ErrMalformed.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	want, ok := arity[fields[0]]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	if len(fields)-1 != want {
		return Command{}, fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrMalformed, fields[0], want, len(fields)-1)
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// Arg returns the i-th argument or "" when absent.
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// String encodes the command as a request line without the trailing newline.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// ValidToken reports whether s can travel as a single protocol field.
func ValidToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n")
}

// ValidKey reports whether s can be stored as a directory key. Keys may not
// contain the range separator, since split boundaries are cut from keys and
// travel in "from-to" form.
func ValidKey(s string) bool {
	return ValidToken(s) && !strings.Contains(s, keyrange.Separator)
}

// OK formats a success response.
func OK(fields ...string) string {
	if len(fields) == 0 {
		return HeadOK
	}
	return HeadOK + " " + strings.Join(fields, " ")
}

// Nok formats a failure response with an optional reason.
func Nok(reason string) string {
	if reason == "" {
		return HeadNok
	}
	return HeadNok + " " + reason
}

// Response is a decoded response line.
type Response struct {
	Head   string
	Fields []string
	Raw    string
}

// ParseResponse decodes a response line.
func ParseResponse(line string) (Response, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}
	switch fields[0] {
	case HeadOK, HeadNok, HeadSync:
	default:
		return Response{}, fmt.Errorf("%w: unexpected response %q", ErrMalformed, line)
	}
	return Response{Head: fields[0], Fields: fields[1:], Raw: line}, nil
}

// IsOK reports an "ok" response.
func (r Response) IsOK() bool { return r.Head == HeadOK }

// IsSync reports a "sync" redirect.
func (r Response) IsSync() bool { return r.Head == HeadSync }

// Value returns the first payload field, or "" when there is none.
func (r Response) Value() string {
	if len(r.Fields) == 0 {
		return ""
	}
	return r.Fields[0]
}

// RemoteError is a peer's refusal. It carries the raw response line and
// unwraps to the sentinel matching the failure reason.
type RemoteError struct {
	Response string
}

func (e *RemoteError) Error() string {
	return "remote operation failed: " + e.Response
}

// Unwrap maps the failure reason onto the protocol sentinels.
func (e *RemoteError) Unwrap() error {
	fields := strings.Fields(e.Response)
	if len(fields) == 0 || fields[0] != HeadNok {
		return ErrMalformed
	}
	if len(fields) == 1 {
		return ErrNotFound
	}
	switch fields[1] {
	case ReasonBound:
		return ErrBound
	case ReasonNotBound:
		return ErrNotBound
	case ReasonUnknownCommand:
		return ErrUnknownCommand
	case ReasonUncovered:
		return ErrUncovered
	}
	return nil
}

// SyncNotice is a shard's redirect: the key is not in Range (the shard's
// current range) and is believed to be owned by Owner, which covers OwnerRange.
type SyncNotice struct {
	Range      keyrange.Range
	Owner      string
	OwnerRange keyrange.Range
}

// String encodes the notice as a response line.
func (n SyncNotice) String() string {
	return strings.Join([]string{HeadSync, n.Range.String(), n.Owner, n.OwnerRange.String()}, " ")
}

// ParseSync decodes a "sync" response line.
func ParseSync(line string) (SyncNotice, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != HeadSync {
		return SyncNotice{}, fmt.Errorf("%w: bad sync notice %q", ErrMalformed, line)
	}
	mine, err := keyrange.Parse(fields[1])
	if err != nil {
		return SyncNotice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	owner, err := keyrange.Parse(fields[3])
	if err != nil {
		return SyncNotice{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return SyncNotice{Range: mine, Owner: fields[2], OwnerRange: owner}, nil
}
