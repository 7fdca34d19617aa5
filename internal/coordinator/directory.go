package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/rangedir/internal/keyrange"
)

var (
	// ErrNotReserved is returned by Register when no host is reserved for
	// exactly the announced range.
	ErrNotReserved = errors.New("no host reserved for range")

	// ErrNoPredecessor is returned by Register when no linked host covers the
	// lower bound of the announced range.
	ErrNoPredecessor = errors.New("no linked predecessor for range")

	// ErrBadBoundary is returned by Register when the announced lower bound
	// cannot have been produced by a split.
	ErrBadBoundary = errors.New("range start is not a split boundary")
)

// HostRecord is one known host and what it serves.
//
// A record moves through three states:
//   - free: Range is zero, Linked is false
//   - reserved: Range is set by SeekHost, Linked is false
//   - linked: Register confirmed the host is serving Range
//
// Records are never deleted during a run.
type HostRecord struct {
	Host   string         `json:"host"`
	Range  keyrange.Range `json:"range"`
	Linked bool           `json:"linked"`
}

// Free reports whether the host has no assignment.
func (h HostRecord) Free() bool { return h.Range.IsZero() }

// Reserved reports whether the host was handed out but has not registered yet.
func (h HostRecord) Reserved() bool { return !h.Range.IsZero() && !h.Linked }

func (h HostRecord) String() string {
	switch {
	case h.Free():
		return h.Host + " free"
	case h.Linked:
		return h.Host + " " + h.Range.String() + " linked"
	default:
		return h.Host + " " + h.Range.String() + " reserved"
	}
}

// Directory is the coordinator's host table: which host serves which key
// range, and which hosts are still free to take over half of a splitting
// shard.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│               Directory                 │
//	├─────────────────────────────────────────┤
//	│  node1:55252   a-a54     linked         │
//	│  node2:55252   a54a-z    linked         │
//	│  node3:55252   -         free           │
//	├─────────────────────────────────────────┤
//	│  seekHost: free → reserved              │
//	│  register: reserved → linked,           │
//	│            predecessor narrowed         │
//	│  seekKey:  key → linked owner           │
//	└─────────────────────────────────────────┘
//
// Concurrency Model:
//   - A single mutex guards the table; every command is one critical section
//   - Returned records are copies
//   - No I/O happens while the lock is held
//
// Records keep the order in which hosts were added, so SeekHost hands out
// hosts in configuration order.
type Directory struct {
	logger *slog.Logger
	hosts  []*HostRecord
	mu     sync.Mutex
}

// NewDirectory builds the initial table from the static host list.
//
// firstHost is the host running the initial shard; it is pre-linked with the
// full range and never registers. It is added to the table if the host list
// does not name it. Duplicate hosts are ignored.
//
// Parameters:
//   - hosts: Every host that may run a shard, in hand-out order
//   - firstHost: Host of the shard that starts out owning a-z
//   - logger: Destination for table dumps; nil means slog.Default()
//
// Example:
//
//	dir := NewDirectory([]string{"node1", "node2", "node3"}, "node1", nil)
//	host, ok := dir.SeekHost(keyrange.MustNew("m", "z")) // "node2", true
func NewDirectory(hosts []string, firstHost string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{logger: logger.With("component", "directory")}

	if firstHost != "" {
		d.hosts = append(d.hosts, &HostRecord{Host: firstHost, Range: keyrange.Full, Linked: true})
	}
	for _, h := range hosts {
		d.add(h)
	}
	return d
}

// SeekHost reserves the first free host for r and returns its name. It
// returns false when every host already has a range.
func (d *Directory) SeekHost(r keyrange.Range) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := slices.IndexFunc(d.hosts, func(h *HostRecord) bool { return h.Free() })
	if i < 0 {
		d.logger.Info("no free host for split", "range", r.String())
		return "", false
	}
	d.hosts[i].Range = r
	d.dump("seekHost")
	return d.hosts[i].Host, true
}

// SeekKey returns the linked host whose range contains key.
func (d *Directory) SeekKey(key string) (string, keyrange.Range, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := slices.IndexFunc(d.hosts, func(h *HostRecord) bool {
		return h.Linked && h.Range.Contains(key)
	})
	if i < 0 {
		return "", keyrange.Range{}, false
	}
	return d.hosts[i].Host, d.hosts[i].Range, true
}

// Register confirms that the host reserved for r is now serving it. In the
// same step the linked host whose range contains r.From is narrowed to end
// just before r.From. Nothing changes unless both hosts are found.
//
// Returns:
//   - nil on success
//   - ErrBadBoundary if r.From has no predecessor boundary
//   - ErrNotReserved if no host is reserved with exactly r
//   - ErrNoPredecessor if no other linked host contains r.From
func (d *Directory) Register(r keyrange.Range) error {
	newTo, ok := keyrange.Predecessor(r.From)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBadBoundary, r)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ri := slices.IndexFunc(d.hosts, func(h *HostRecord) bool {
		return h.Reserved() && h.Range.Equal(r)
	})
	if ri < 0 {
		return fmt.Errorf("%w: %s", ErrNotReserved, r)
	}
	pi := slices.IndexFunc(d.hosts, func(h *HostRecord) bool {
		return h.Linked && h.Range.Contains(r.From)
	})
	if pi < 0 {
		return fmt.Errorf("%w: %s", ErrNoPredecessor, r)
	}
	narrowed, err := keyrange.New(d.hosts[pi].Range.From, newTo)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoPredecessor, r, err)
	}

	d.hosts[pi].Range = narrowed
	d.hosts[ri].Linked = true
	d.dump("register")
	return nil
}

// AddHost appends a free host. It reports false if the host is already known.
func (d *Directory) AddHost(host string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.add(host) {
		return false
	}
	d.dump("addHost")
	return true
}

// Snapshot returns a copy of every record in table order.
func (d *Directory) Snapshot() []HostRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]HostRecord, len(d.hosts))
	for i, h := range d.hosts {
		out[i] = *h
	}
	return out
}

// LinkedHosts returns the names of linked hosts.
func (d *Directory) LinkedHosts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, h := range d.hosts {
		if h.Linked {
			out = append(out, h.Host)
		}
	}
	return out
}

func (d *Directory) add(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if slices.ContainsFunc(d.hosts, func(h *HostRecord) bool { return h.Host == host }) {
		return false
	}
	d.hosts = append(d.hosts, &HostRecord{Host: host})
	return true
}

// dump logs the table; callers hold the lock.
func (d *Directory) dump(after string) {
	if !d.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	rows := make([]string, len(d.hosts))
	for i, h := range d.hosts {
		rows[i] = h.String()
	}
	d.logger.Debug("host table", "after", after, "hosts", rows)
}
