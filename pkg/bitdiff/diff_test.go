package bitdiff

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomDiff draws a diff over a small address space so that random pairs
// overlap often.
func randomDiff(rng *rand.Rand) Diff {
	d := New()
	n := rng.Intn(12)
	for i := 0; i < n; i++ {
		pos := BitPos{Tile: rng.Intn(2), Frame: rng.Intn(3), Bit: rng.Intn(4)}
		d[pos] = rng.Intn(2) == 1
	}
	return d
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"disjoint", "{0.0.1:1}", "{0.0.2:0}", "{0.0.1:1 0.0.2:0}"},
		{"agreeing bits kept", "{0.0.1:1}", "{0.0.1:1}", "{0.0.1:1}"},
		{"differing bits cancel", "{0.0.1:1 0.0.2:1}", "{0.0.1:0}", "{0.0.2:1}"},
		{"empty operands", "{}", "{}", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustParse(tt.a).Combine(MustParse(tt.b))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCombineNegationSubtracts(t *testing.T) {
	measured := MustParse("{0.1.5:1 0.3.2:0}")
	known := MustParse("{0.3.2:0}")

	rest := measured.Combine(known.Not())
	assert.True(t, rest.Equal(MustParse("{0.1.5:1}")), "got %s", rest)

	// operands are untouched
	assert.Equal(t, 2, measured.Len())
	assert.Equal(t, 1, known.Len())
}

func TestNotInvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		d := randomDiff(rng)
		require.True(t, d.Not().Not().Equal(d), "diff %s", d)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		a, b := randomDiff(rng), randomDiff(rng)
		aOnly, bOnly, common := Split(a, b)

		require.True(t, aOnly.Combine(common).Equal(a), "a=%s b=%s", a, b)
		require.True(t, bOnly.Combine(common).Equal(b), "a=%s b=%s", a, b)
		for k, v := range common {
			require.Equal(t, v, a[k])
			require.Equal(t, v, b[k])
		}
	}
}

func TestSplitBitsByPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		orig := randomDiff(rng)
		d := orig.Clone()
		tile := rng.Intn(2)

		sub := d.SplitBitsBy(func(p BitPos) bool { return p.Tile == tile })

		for k := range orig {
			_, inSub := sub[k]
			_, inRest := d[k]
			require.True(t, inSub != inRest, "bit %s must be in exactly one side", k)
			require.Equal(t, tile == k.Tile, inSub)
		}
		require.True(t, sub.Combine(d).Equal(orig))
	}
}

func TestFilterAndDiscard(t *testing.T) {
	d := MustParse("{0.0.0:1 1.0.0:0 2.4.4:1}")

	assert.Equal(t, "{1.0.0:0 2.4.4:1}", d.FilterTiles(1, 2).String())
	assert.Equal(t, "{0.0.0:1}", d.DiscardBits(BitPos{1, 0, 0}, BitPos{2, 4, 4}).String())
	assert.Equal(t, 3, d.Len())
}

func TestAssertEmpty(t *testing.T) {
	require.NoError(t, New().AssertEmpty("nothing"))
	require.NoError(t, Diff(nil).AssertEmpty("nil"))

	err := MustParse("{0.2.7:1}").AssertEmpty("CLB.SLICE0.FFSYNC")
	require.Error(t, err)

	var ide *InconsistentDiffError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, "CLB.SLICE0.FFSYNC", ide.Context)
	assert.Contains(t, err.Error(), "0.2.7:1")
}

func TestAssertEq(t *testing.T) {
	a := MustParse("{0.0.1:1 0.0.2:1}")
	require.NoError(t, AssertEq(a, a.Clone(), "same"))

	err := AssertEq(a, MustParse("{0.0.1:1 0.0.3:0}"), "drift")
	var ide *InconsistentDiffError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, "{0.0.2:1 0.0.3:0}", ide.Residual.String())
}

func TestParse(t *testing.T) {
	d, err := Parse("0.1.2:1, 3.4.5:0")
	require.NoError(t, err)
	assert.Equal(t, "{0.1.2:1 3.4.5:0}", d.String())

	_, err = Parse("{0.1.2:1 0.1.2:0}")
	assert.Error(t, err)
	_, err = Parse("{0.1:1}")
	assert.Error(t, err)
	_, err = Parse("{0.1.2:x}")
	assert.Error(t, err)
}

func TestPositionsSorted(t *testing.T) {
	d := MustParse("{1.0.0:1 0.2.0:0 0.1.9:1}")
	assert.Equal(t, []BitPos{{0, 1, 9}, {0, 2, 0}, {1, 0, 0}}, d.Positions())
}
