package keyrange

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Range
		wantErr bool
	}{
		{name: "full range", in: "a-z", want: Range{From: "a", To: "z"}},
		{name: "multi character bounds", in: "a54a-z", want: Range{From: "a54a", To: "z"}},
		{name: "equal bounds", in: "m-m", want: Range{From: "m", To: "m"}},
		{name: "mixed case", in: "A-z", want: Range{From: "A", To: "z"}},
		{name: "reversed bounds", in: "z-a", wantErr: true},
		{name: "missing separator", in: "az", wantErr: true},
		{name: "empty lower bound", in: "-z", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "separator inside upper bound", in: "my-sa-z", wantErr: true},
		{name: "separator inside lower bound", in: "x-aca-z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestContains(t *testing.T) {
	r := MustNew("b", "m")

	tests := []struct {
		key  string
		want bool
	}{
		{"b", true},
		{"B", true},
		{"banana", true},
		{"m", true},
		{"M", true},
		{"a", false},
		{"azzz", false},
		{"ma", false},
		{"z", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Contains(tt.key))
		})
	}

	assert.False(t, Range{}.Contains("a"), "zero range owns nothing")
}

// Contains must agree with the from <= k <= to definition for every key.
func TestContainsMatchesOrdering(t *testing.T) {
	keys := []string{"a", "A1", "ab", "abc", "b", "Ba", "c9", "m", "mz", "n", "x", "ZZ", "z"}
	ranges := []Range{Full, MustNew("a", "ab"), MustNew("ab", "m"), MustNew("mz", "z"), MustNew("b", "b")}

	for _, r := range ranges {
		for _, k := range keys {
			want := CompareFold(r.From, k) <= 0 && CompareFold(k, r.To) <= 0
			assert.Equal(t, want, r.Contains(k), "range %s key %q", r, k)
		}
	}
}

func TestOverlapsAndCovers(t *testing.T) {
	left := MustNew("a", "ac")
	right := MustNew("aca", "z")

	assert.False(t, left.Overlaps(right))
	assert.False(t, right.Overlaps(left))
	assert.True(t, Full.Overlaps(left))
	assert.True(t, MustNew("ab", "b").Overlaps(right))

	assert.True(t, Full.Covers(left))
	assert.True(t, Full.Covers(right))
	assert.False(t, left.Covers(Full))
	assert.True(t, left.Covers(left))
}

func TestSplitPoint(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want string
	}{
		{name: "documented example", keys: []string{"aaa", "aba", "aca", "d"}, want: "ac"},
		{name: "two keys", keys: []string{"apple", "banana"}, want: "b"},
		{name: "three keys use first pair", keys: []string{"cat", "cow", "dog"}, want: "co"},
		{name: "first key is a prefix", keys: []string{"ab", "abc"}, want: "abc"},
		{name: "keys differ only in case", keys: []string{"A", "a"}, want: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitPoint(tt.keys)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SplitPoint([]string{"only"})
	assert.ErrorIs(t, err, ErrTooFewKeys)
}

func TestSplitPointDeterministic(t *testing.T) {
	keys := make([]string, 0, 100)
	for i := 1; i <= 100; i++ {
		keys = append(keys, fmt.Sprintf("a%d", i))
	}
	sort.Slice(keys, func(i, j int) bool { return LessFold(keys[i], keys[j]) })

	first, err := SplitPoint(keys)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SplitPoint(keys)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a54", first)
}

func TestNextBoundaryAndPredecessor(t *testing.T) {
	assert.Equal(t, "aca", NextBoundary("ac"))

	prev, ok := Predecessor(NextBoundary("ac"))
	require.True(t, ok)
	assert.Equal(t, "ac", prev)

	prev, ok = Predecessor("a54A")
	require.True(t, ok)
	assert.Equal(t, "a54", prev)

	for _, b := range []string{"a", "m", "abc", ""} {
		_, ok := Predecessor(b)
		assert.False(t, ok, "boundary %q has no exact predecessor", b)
	}
}

func TestNextBoundaryCoversLetterKeysOnly(t *testing.T) {
	lower := MustNew("a", "a54")
	upper := MustNew(NextBoundary("a54"), "z")

	for _, k := range []string{"a54", "a54a", "a54b", "a54zz", "a53z", "a6"} {
		assert.True(t, lower.Contains(k) != upper.Contains(k), "%q must be owned by exactly one side", k)
	}
	for _, k := range []string{"a540", "a549"} {
		assert.False(t, lower.Contains(k) || upper.Contains(k), "%q sorts between the two ranges", k)
	}
}

func TestSplit(t *testing.T) {
	keys := []string{"aaa", "aba", "aca", "d"}

	lower, upper, cut, err := Full.Split(keys)
	require.NoError(t, err)
	assert.Equal(t, "ac", cut)
	assert.Equal(t, MustNew("a", "ac"), lower)
	assert.Equal(t, MustNew("aca", "z"), upper)
	assert.False(t, lower.Overlaps(upper))

	// Every key ends up on exactly one side.
	for _, k := range keys {
		assert.NotEqual(t, lower.Contains(k), upper.Contains(k), "key %q", k)
	}

	// A cut at the upper bound cannot produce a non-empty upper half.
	_, _, _, err = MustNew("a", "b").Split([]string{"a", "b"})
	assert.ErrorIs(t, err, ErrUnsplittable)
}

func TestCompareFold(t *testing.T) {
	assert.Equal(t, 0, CompareFold("Hello", "hELLO"))
	assert.Equal(t, -1, CompareFold("ab", "abc"))
	assert.Equal(t, 1, CompareFold("b", "Abc"))
	assert.True(t, LessFold("A", "a"))
	assert.False(t, LessFold("a", "A"))
}
