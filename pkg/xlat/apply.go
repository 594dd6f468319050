package xlat

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

// transition returns the bits that change between two raw patterns over
// bits, valued as in the to pattern.
func transition(bits []bitdiff.BitPos, from, to tiledb.BitVec) bitdiff.Diff {
	out := bitdiff.New()
	for i, p := range bits {
		if from[i] != to[i] {
			out[p] = to[i]
		}
	}
	return out
}

func rawOf(item tiledb.Item, logical tiledb.BitVec) (tiledb.BitVec, error) {
	if len(logical) != len(item.Bits) || len(item.Invert) != len(item.Bits) {
		return nil, fmt.Errorf("xlat: %d-bit value for %s", len(logical), item)
	}
	return logical.Xor(item.Invert), nil
}

func uniform(n int, v bool) tiledb.BitVec {
	out := make(tiledb.BitVec, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// BitDiff returns the diff a bit or wide-bit item contributes when its value
// changes from from to to.
func BitDiff(item tiledb.Item, from, to bool) (bitdiff.Diff, error) {
	if item.Kind != tiledb.KindBit && item.Kind != tiledb.KindWideBit {
		return nil, fmt.Errorf("xlat: %s is not a bit item", item)
	}
	return BitvecDiff(item, uniform(len(item.Bits), from), uniform(len(item.Bits), to))
}

// BitvecDiff returns the diff a bit vector item contributes when its logical
// value changes from from to to.
func BitvecDiff(item tiledb.Item, from, to tiledb.BitVec) (bitdiff.Diff, error) {
	rawFrom, err := rawOf(item, from)
	if err != nil {
		return nil, err
	}
	rawTo, err := rawOf(item, to)
	if err != nil {
		return nil, err
	}
	return transition(item.Bits, rawFrom, rawTo), nil
}

// EnumDiff returns the diff an enum item contributes when it changes from
// value from to value to.
func EnumDiff(item tiledb.Item, from, to string) (bitdiff.Diff, error) {
	if item.Kind != tiledb.KindEnum {
		return nil, fmt.Errorf("xlat: %s is not an enum item", item)
	}
	rawFrom, ok := item.Values[from]
	if !ok {
		return nil, fmt.Errorf("xlat: enum has no value %q", from)
	}
	rawTo, ok := item.Values[to]
	if !ok {
		return nil, fmt.Errorf("xlat: enum has no value %q", to)
	}
	return transition(item.Bits, rawFrom, rawTo), nil
}

// cancel removes contrib from *d. A bit of contrib that *d holds with the
// opposite value is an inconsistency; a bit that *d lacks is inserted with
// its pre-transition value so a later AssertEmpty reports it.
func cancel(d *bitdiff.Diff, contrib bitdiff.Diff, context string) error {
	if *d == nil {
		*d = bitdiff.New()
	}
	for p, v := range contrib {
		cur, ok := (*d)[p]
		switch {
		case !ok:
			(*d)[p] = !v
		case cur == v:
			delete(*d, p)
		default:
			return fail(context, bitdiff.Diff{p: cur}, ErrConflictingPolarity,
				"bit moved to %v, item expects %v", cur, v)
		}
	}
	return nil
}

// ApplyBitDiff cancels the effect of a known bit or wide-bit item changing
// from from to to out of the working diff.
func ApplyBitDiff(d *bitdiff.Diff, item tiledb.Item, from, to bool) error {
	contrib, err := BitDiff(item, from, to)
	if err != nil {
		return err
	}
	return cancel(d, contrib, fmt.Sprintf("apply_bit_diff %v->%v", from, to))
}

// ApplyBitvecDiff cancels the effect of a known bit vector item changing
// from from to to out of the working diff.
func ApplyBitvecDiff(d *bitdiff.Diff, item tiledb.Item, from, to tiledb.BitVec) error {
	contrib, err := BitvecDiff(item, from, to)
	if err != nil {
		return err
	}
	return cancel(d, contrib, fmt.Sprintf("apply_bitvec_diff %s->%s", from, to))
}

// ApplyEnumDiff cancels the effect of a known enum item changing from value
// from to value to out of the working diff.
func ApplyEnumDiff(d *bitdiff.Diff, item tiledb.Item, from, to string) error {
	contrib, err := EnumDiff(item, from, to)
	if err != nil {
		return err
	}
	return cancel(d, contrib, fmt.Sprintf("apply_enum_diff %s->%s", from, to))
}

// ExtractBitvecValPart removes the bits of a bit vector item from the
// working diff and returns the value they encode. Item bits the diff does
// not hold keep their default value. Other bits are left in place.
func ExtractBitvecValPart(d *bitdiff.Diff, item tiledb.Item, def tiledb.BitVec) (tiledb.BitVec, error) {
	if len(def) != len(item.Bits) || len(item.Invert) != len(item.Bits) {
		return nil, fmt.Errorf("xlat: %d-bit default for %s", len(def), item)
	}
	val := def.Clone()
	removed := bitdiff.New()
	for i, p := range item.Bits {
		raw, ok := (*d)[p]
		if !ok {
			continue
		}
		removed[p] = raw
		val[i] = raw != item.Invert[i]
		if val[i] == def[i] {
			return nil, fail("extract_bitvec_val", removed, ErrConflictingPolarity,
				"bit %d changed but decodes to its default %v", i, def[i])
		}
	}
	for p := range removed {
		delete(*d, p)
	}
	return val, nil
}

// ExtractBitvecVal is ExtractBitvecValPart for a diff that the item must
// explain completely.
func ExtractBitvecVal(d *bitdiff.Diff, item tiledb.Item, def tiledb.BitVec) (tiledb.BitVec, error) {
	val, err := ExtractBitvecValPart(d, item, def)
	if err != nil {
		return nil, err
	}
	if err := d.AssertEmpty(fmt.Sprintf("extract_bitvec_val %s", item)); err != nil {
		return nil, err
	}
	return val, nil
}
