package tiledb

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
)

func pos(t, f, b int) bitdiff.BitPos {
	return bitdiff.BitPos{Tile: t, Frame: f, Bit: b}
}

func sampleDB(t *testing.T) *Database {
	t.Helper()
	db := New("toy")
	require.NoError(t, db.Insert(Key{"CLB", "SLICE0", "FFSYNC"}, BitItem(pos(0, 1, 5), true)))
	require.NoError(t, db.Insert(Key{"IOB", "IOB0", "DRIVE"}, Item{
		Kind:   KindBitVec,
		Bits:   []bitdiff.BitPos{pos(0, 0, 1), pos(0, 0, 2), pos(0, 0, 3)},
		Invert: BitVec{false, true, false},
	}))
	require.NoError(t, db.Insert(Key{"CLB", "SLICE0", "CLKMUX"}, Item{
		Kind: KindEnum,
		Bits: []bitdiff.BitPos{pos(0, 2, 0), pos(0, 2, 1)},
		Values: map[string]BitVec{
			"NONE":  {false, false},
			"CLK0":  {true, false},
			"CLK 1": {false, true},
		},
		Ocd: "mux",
	}))
	return db
}

func TestInsertSingleWriter(t *testing.T) {
	db := New("toy")
	key := Key{"CLB", "SLICE0", "FFSYNC"}
	require.NoError(t, db.Insert(key, BitItem(pos(0, 1, 5), true)))

	err := db.Insert(key, BitItem(pos(0, 1, 6), false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyResolved))

	got, ok := db.Get(key)
	require.True(t, ok)
	assert.Equal(t, []bitdiff.BitPos{pos(0, 1, 5)}, got.Bits)
}

func TestInsertValidates(t *testing.T) {
	db := New("toy")
	cases := []Item{
		{Kind: KindBit},
		{Kind: KindBit, Bits: []bitdiff.BitPos{pos(0, 0, 0), pos(0, 0, 1)}, Invert: BitVec{false, false}},
		{Kind: KindBitVec, Bits: []bitdiff.BitPos{pos(0, 0, 0)}},
		{Kind: KindWideBit, Bits: []bitdiff.BitPos{pos(0, 0, 0), pos(0, 0, 1)}, Invert: BitVec{true, false}},
		{Kind: KindEnum, Bits: []bitdiff.BitPos{pos(0, 0, 0)}, Values: map[string]BitVec{"A": {true, false}}},
		{Kind: KindBitVec, Bits: []bitdiff.BitPos{pos(0, 0, 0), pos(0, 0, 0)}, Invert: BitVec{false, false}},
	}
	for i, it := range cases {
		assert.Error(t, db.Insert(Key{"T", "B", string(rune('a' + i))}, it), "case %d", i)
	}
	assert.Equal(t, 0, db.Len())
}

func TestKeysSorted(t *testing.T) {
	db := sampleDB(t)
	keys := db.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, "CLB:SLICE0:CLKMUX", keys[0].String())
	assert.Equal(t, "CLB:SLICE0:FFSYNC", keys[1].String())
	assert.Equal(t, "IOB:IOB0:DRIVE", keys[2].String())
}

func TestJSONRoundTrip(t *testing.T) {
	db := sampleDB(t)
	data, err := db.ExportJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "1.0"`)
	assert.Contains(t, string(data), `"kind": "bitvec"`)

	back, err := ImportJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "toy", back.Device)
	assert.Empty(t, Compare(db, back))
}

func TestSexpRoundTrip(t *testing.T) {
	db := sampleDB(t)
	dump := db.SexpString()
	assert.Contains(t, dump, `(item "CLB" "SLICE0" "FFSYNC" bit (bits 0.1.5) (invert 1))`)
	assert.Contains(t, dump, `(invert 010)`)

	back, err := ParseSexp("; golden\n" + dump)
	require.NoError(t, err)
	assert.Equal(t, "toy", back.Device)
	assert.Empty(t, Compare(db, back))
	assert.Equal(t, dump, back.SexpString())
}

func TestReadSexpErrors(t *testing.T) {
	cases := []string{
		`(item "T" "B" "A" nosuchkind (bits 0.0.0) (invert 0))`,
		`(item "T" "B" "A" bit (bits x.y) (invert 0))`,
		`(item "T" "B" "A" bit (bits 0.0.0) (invert 2))`,
		`(item "T" "B" "A" enum (bits 0.0.0) (value "X" 1) (value "X" 0))`,
		`(frobnicate)`,
		`(item "T" "B"`,
	}
	for _, c := range cases {
		_, err := ReadSexp(strings.NewReader(c))
		assert.Error(t, err, c)
	}
}

func TestMergeAndCompare(t *testing.T) {
	a := sampleDB(t)
	b := New("toy")
	require.NoError(t, b.Insert(Key{"CLB", "SLICE0", "FFSYNC"}, BitItem(pos(0, 1, 5), true)))
	require.NoError(t, b.Insert(Key{"CLB", "SLICE1", "FFSYNC"}, BitItem(pos(1, 1, 5), true)))

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 4, a.Len())

	c := New("toy")
	require.NoError(t, c.Insert(Key{"CLB", "SLICE0", "FFSYNC"}, BitItem(pos(0, 1, 5), false)))
	assert.Error(t, a.Merge(c))

	ms := Compare(a, c)
	require.Len(t, ms, 4)
	var changed int
	for _, m := range ms {
		if m.Want != nil && m.Got != nil {
			changed++
			assert.Equal(t, "CLB:SLICE0:FFSYNC", m.Key.String())
		}
	}
	assert.Equal(t, 1, changed)
}

func TestBitVec(t *testing.T) {
	v := BitVecFromUint(6, 4)
	assert.Equal(t, "0110", v.String())
	n, err := v.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)

	p, err := ParseBitVec("0110")
	require.NoError(t, err)
	assert.True(t, p.Equal(v))
	assert.Equal(t, "1001", v.Not().String())
	assert.Equal(t, "0101", v.Xor(BitVec{true, true, false, false}).String())

	_, err = NewBitVec(65).Uint()
	assert.Error(t, err)
}
