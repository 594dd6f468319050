// Package xlat turns per-value observations into canonical tile database
// items, and applies known items back onto working diffs.
//
// Every translator either explains all bits it is given or fails with a
// *bitdiff.InconsistentDiffError; errors.Is distinguishes the failure class
// through ErrBitCount, ErrConflictingPolarity and ErrNotDisjoint.
package xlat

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

var (
	// ErrBitCount reports a diff with the wrong number of bits for the
	// requested item kind.
	ErrBitCount = errors.New("xlat: unexpected bit count")

	// ErrConflictingPolarity reports a location observed with both values,
	// so it has no single baseline.
	ErrConflictingPolarity = errors.New("xlat: conflicting polarity")

	// ErrNotDisjoint reports mux values that share a bit.
	ErrNotDisjoint = errors.New("xlat: mux values not disjoint")

	// ErrAmbiguous reports two enum values that encode to the same pattern,
	// or a name given twice with different observations.
	ErrAmbiguous = errors.New("xlat: ambiguous enum values")
)

func fail(context string, residual bitdiff.Diff, sentinel error, format string, args ...interface{}) error {
	return &bitdiff.InconsistentDiffError{
		Context:  context,
		Residual: residual.Clone(),
		Reason:   fmt.Sprintf(format, args...),
		Err:      sentinel,
	}
}

// XlatBit translates a diff holding exactly one bit into a bit item whose
// true state is the observed value.
func XlatBit(d bitdiff.Diff) (tiledb.Item, error) {
	if len(d) != 1 {
		return tiledb.Item{}, fail("xlat_bit", d, ErrBitCount, "want 1 bit, got %d", len(d))
	}
	for p, v := range d {
		return tiledb.BitItem(p, !v), nil
	}
	panic("unreachable")
}

// XlatBool translates the diffs of the false and true states of a boolean
// attribute, each measured against a common baseline.
func XlatBool(off, on bitdiff.Diff) (tiledb.Item, error) {
	return XlatBit(off.Not().Combine(on))
}

// XlatBitWide translates a diff whose bits all flip together. Every bit must
// carry the same value.
func XlatBitWide(d bitdiff.Diff) (tiledb.Item, error) {
	if len(d) == 0 {
		return tiledb.Item{}, fail("xlat_bit_wide", d, ErrBitCount, "no bits")
	}
	bits := d.Sorted()
	item := tiledb.Item{Kind: tiledb.KindWideBit}
	for _, b := range bits {
		if b.Val != bits[0].Val {
			return tiledb.Item{}, fail("xlat_bit_wide", d, ErrConflictingPolarity, "bits flip in opposite directions")
		}
		item.Bits = append(item.Bits, b.Pos)
		item.Invert = append(item.Invert, !b.Val)
	}
	return item, nil
}

// XlatBitvec translates one diff per bit index, lowest first, into a bit
// vector. Each diff must hold exactly one bit, and no bit may repeat.
func XlatBitvec(diffs []bitdiff.Diff) (tiledb.Item, error) {
	if len(diffs) == 0 {
		return tiledb.Item{}, fail("xlat_bitvec", nil, ErrBitCount, "no diffs")
	}
	item := tiledb.Item{Kind: tiledb.KindBitVec}
	seen := make(map[bitdiff.BitPos]int)
	for i, d := range diffs {
		if len(d) != 1 {
			return tiledb.Item{}, fail(fmt.Sprintf("xlat_bitvec[%d]", i), d, ErrBitCount, "want 1 bit, got %d", len(d))
		}
		for p, v := range d {
			if j, ok := seen[p]; ok {
				return tiledb.Item{}, fail(fmt.Sprintf("xlat_bitvec[%d]", i), d, ErrAmbiguous, "bit also used by index %d", j)
			}
			seen[p] = i
			item.Bits = append(item.Bits, p)
			item.Invert = append(item.Invert, !v)
		}
	}
	return item, nil
}

// BitvecItem returns a bit vector item for bits already known, all of the
// same polarity. It is used for fields whose bits are located by other means.
func BitvecItem(bits []bitdiff.BitPos, invert bool) tiledb.Item {
	item := tiledb.Item{Kind: tiledb.KindBitVec, Bits: append([]bitdiff.BitPos(nil), bits...)}
	for range bits {
		item.Invert = append(item.Invert, invert)
	}
	return item
}
