// Package keyrange implements the lexicographic key intervals that partition the
// directory between shards, together with the deterministic split arithmetic used
// when a shard carves off the upper part of its range.
//
// Ranges are inclusive on both ends and compare keys case-insensitively (ASCII
// folding). On the wire a range is written "from-to".
package keyrange

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the two bounds of a range in its textual form.
const Separator = "-"

var (
	// ErrInvalidRange is returned when a range cannot be parsed or has from > to.
	ErrInvalidRange = errors.New("invalid key range")

	// ErrTooFewKeys is returned by SplitPoint when fewer than two keys are given.
	ErrTooFewKeys = errors.New("at least two keys are required to compute a split point")

	// ErrUnsplittable is returned by Split when the computed cut would leave
	// one side of the range empty.
	ErrUnsplittable = errors.New("range cannot be split at the computed cut")
)

// Full is the range owned by the first shard of a directory.
var Full = Range{From: "a", To: "z"}

// Range is an inclusive, case-insensitive interval of keys.
//
// Ranges are values: they are never mutated in place, a narrowed range is a new
// Range.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// New builds a range and checks that from <= to. Bounds may not contain
// Separator, or the textual form would not parse back.
func New(from, to string) (Range, error) {
	if from == "" || to == "" {
		return Range{}, fmt.Errorf("%w: empty bound in %q", ErrInvalidRange, from+Separator+to)
	}
	if strings.Contains(from, Separator) || strings.Contains(to, Separator) {
		return Range{}, fmt.Errorf("%w: %q in bound of %q", ErrInvalidRange, Separator, from+Separator+to)
	}
	if CompareFold(from, to) > 0 {
		return Range{}, fmt.Errorf("%w: %q is after %q", ErrInvalidRange, from, to)
	}
	return Range{From: from, To: to}, nil
}

// MustNew is like New but panics on an invalid range. Intended for constants
// and tests.
func MustNew(from, to string) Range {
	r, err := New(from, to)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse reads the "from-to" form.
func Parse(s string) (Range, error) {
	from, to, ok := strings.Cut(s, Separator)
	if !ok {
		return Range{}, fmt.Errorf("%w: missing %q in %q", ErrInvalidRange, Separator, s)
	}
	return New(from, to)
}

// String returns the wire form "from-to".
func (r Range) String() string {
	return r.From + Separator + r.To
}

// IsZero reports whether r is the zero Range (no assignment).
func (r Range) IsZero() bool {
	return r.From == "" && r.To == ""
}

// Equal compares bounds case-insensitively.
func (r Range) Equal(o Range) bool {
	return strings.EqualFold(r.From, o.From) && strings.EqualFold(r.To, o.To)
}

// Contains reports whether from <= key <= to.
func (r Range) Contains(key string) bool {
	if r.IsZero() {
		return false
	}
	return CompareFold(r.From, key) <= 0 && CompareFold(key, r.To) <= 0
}

// Overlaps reports whether r and o share at least one key.
func (r Range) Overlaps(o Range) bool {
	if r.IsZero() || o.IsZero() {
		return false
	}
	return CompareFold(r.From, o.To) <= 0 && CompareFold(o.From, r.To) <= 0
}

// Covers reports whether every key of o is also in r.
func (r Range) Covers(o Range) bool {
	if r.IsZero() || o.IsZero() {
		return false
	}
	return CompareFold(r.From, o.From) <= 0 && CompareFold(o.To, r.To) <= 0
}

// Split partitions r around the split point of the given sorted keys. The lower
// half keeps [r.From, cut]; the upper half becomes [NextBoundary(cut), r.To].
func (r Range) Split(sortedKeys []string) (lower, upper Range, cut string, err error) {
	cut, err = SplitPoint(sortedKeys)
	if err != nil {
		return Range{}, Range{}, "", err
	}
	next := NextBoundary(cut)
	if CompareFold(cut, r.From) < 0 || CompareFold(next, r.To) > 0 {
		return Range{}, Range{}, "", fmt.Errorf("%w: cut %q in %s", ErrUnsplittable, cut, r)
	}
	return Range{From: r.From, To: cut}, Range{From: next, To: r.To}, cut, nil
}

// SplitPoint picks the boundary key for a split from the current key population.
//
// With n keys, the two compared keys are indexes 0 and 1 when n <= 3, otherwise
// n/2-1 and n/2. The result is the shortest prefix of the second key that is
// strictly greater than the first one, e.g. ["aaa","aba","aca","d"] gives "ac".
func SplitPoint(sortedKeys []string) (string, error) {
	n := len(sortedKeys)
	if n < 2 {
		return "", ErrTooFewKeys
	}
	lo, hi := 0, 1
	if n > 3 {
		lo, hi = n/2-1, n/2
	}
	first, second := sortedKeys[lo], sortedKeys[hi]

	i := 0
	for i < len(first) && i < len(second) && lower(first[i]) == lower(second[i]) {
		i++
	}
	i++
	if i > len(second) {
		i = len(second)
	}
	return second[:i], nil
}

// NextBoundary returns the first key of the range that starts right after cut.
// "a" is the smallest letter, so the ranges [.., cut] and [cut+"a", ..] leave
// no gap only for letter-only keys: a key such as cut+"0" sorts between them
// and belongs to neither.
func NextBoundary(cut string) string {
	return cut + "a"
}

// Predecessor inverts NextBoundary: it returns the inclusive upper bound of the
// range that ends right before a range starting at boundary. Only boundaries
// produced by NextBoundary have an exact predecessor; for anything else ok is
// false.
func Predecessor(boundary string) (string, bool) {
	n := len(boundary)
	if n < 2 || lower(boundary[n-1]) != 'a' {
		return "", false
	}
	return boundary[:n-1], true
}

// CompareFold compares a and b after ASCII case folding and returns -1, 0 or +1.
func CompareFold(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ca, cb := lower(a[i]), lower(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// LessFold orders keys by CompareFold and breaks ties bytewise, so that keys
// differing only in case remain distinct in ordered containers.
func LessFold(a, b string) bool {
	if c := CompareFold(a, b); c != 0 {
		return c < 0
	}
	return a < b
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
