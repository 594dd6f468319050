package bitdiff

import (
	"fmt"
	"sort"
	"strings"
)

// Bit is a single entry of a Diff.
type Bit struct {
	Pos BitPos
	Val bool
}

// Diff maps bit locations to the value observed in the perturbed run.
// A location appears at most once. Apart from SplitBitsBy, operations return
// a new Diff and leave their operands untouched.
type Diff map[BitPos]bool

// New returns an empty diff.
func New() Diff {
	return make(Diff)
}

// FromBits builds a diff from a list of entries. A location listed twice
// with different values is rejected.
func FromBits(bits ...Bit) (Diff, error) {
	d := make(Diff, len(bits))
	for _, b := range bits {
		if v, ok := d[b.Pos]; ok && v != b.Val {
			return nil, fmt.Errorf("bitdiff: bit %s listed with both values", b.Pos)
		}
		d[b.Pos] = b.Val
	}
	return d, nil
}

// Len returns the number of bits in the diff.
func (d Diff) Len() int {
	return len(d)
}

// IsEmpty reports whether the diff holds no bits.
func (d Diff) IsEmpty() bool {
	return len(d) == 0
}

// Clone returns a copy of the diff. The clone of a nil diff is empty, not nil.
func (d Diff) Clone() Diff {
	out := make(Diff, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Not returns the diff with every stored value flipped.
func (d Diff) Not() Diff {
	out := make(Diff, len(d))
	for k, v := range d {
		out[k] = !v
	}
	return out
}

// Combine returns the union of d and other. A location held by both with the
// same value is kept once; a location held by both with different values
// cancels and is dropped.
func (d Diff) Combine(other Diff) Diff {
	out := d.Clone()
	for k, v := range other {
		if cur, ok := out[k]; ok {
			if cur != v {
				delete(out, k)
			}
			continue
		}
		out[k] = v
	}
	return out
}

// Split partitions two diffs into the bits only a holds, the bits only b
// holds, and the bits both hold with the same value. Combine(aOnly, common)
// reconstructs a, and Combine(bOnly, common) reconstructs b.
func Split(a, b Diff) (aOnly, bOnly, common Diff) {
	aOnly, bOnly, common = New(), New(), New()
	for k, v := range a {
		if bv, ok := b[k]; ok && bv == v {
			common[k] = v
		} else {
			aOnly[k] = v
		}
	}
	for k, v := range b {
		if _, ok := common[k]; !ok {
			bOnly[k] = v
		}
	}
	return aOnly, bOnly, common
}

// SplitBitsBy removes the bits whose location matches pred from d and
// returns them as a new diff. The result and the remaining d are disjoint.
func (d Diff) SplitBitsBy(pred func(BitPos) bool) Diff {
	out := New()
	for k, v := range d {
		if pred(k) {
			out[k] = v
			delete(d, k)
		}
	}
	return out
}

// FilterTiles returns the bits of d that belong to one of the given tiles.
func (d Diff) FilterTiles(tiles ...int) Diff {
	keep := make(map[int]bool, len(tiles))
	for _, t := range tiles {
		keep[t] = true
	}
	out := New()
	for k, v := range d {
		if keep[k.Tile] {
			out[k] = v
		}
	}
	return out
}

// DiscardBits returns d without the given locations, whatever their value.
func (d Diff) DiscardBits(ps ...BitPos) Diff {
	out := d.Clone()
	for _, p := range ps {
		delete(out, p)
	}
	return out
}

// Equal reports whether both diffs hold the same bits with the same values.
func (d Diff) Equal(other Diff) bool {
	if len(d) != len(other) {
		return false
	}
	for k, v := range d {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Positions returns the locations held by d in BitPos order.
func (d Diff) Positions() []BitPos {
	out := make([]BitPos, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	SortPositions(out)
	return out
}

// Sorted returns the entries of d in BitPos order.
func (d Diff) Sorted() []Bit {
	out := make([]Bit, 0, len(d))
	for k, v := range d {
		out = append(out, Bit{Pos: k, Val: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

// String lists the bits as {T.F.B:V ...} in BitPos order.
func (d Diff) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, b := range d.Sorted() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(b.Pos.String())
		if b.Val {
			sb.WriteString(":1")
		} else {
			sb.WriteString(":0")
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

// Parse reads the form produced by Diff.String. The braces are optional and
// entries may be separated by spaces or commas.
func Parse(s string) (Diff, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	bits := make([]Bit, 0, len(fields))
	for _, f := range fields {
		posStr, valStr, ok := strings.Cut(f, ":")
		if !ok {
			return nil, fmt.Errorf("bitdiff: entry %q missing value", f)
		}
		pos, err := ParseBitPos(posStr)
		if err != nil {
			return nil, err
		}
		var val bool
		switch valStr {
		case "1":
			val = true
		case "0":
			val = false
		default:
			return nil, fmt.Errorf("bitdiff: entry %q has invalid value %q", f, valStr)
		}
		bits = append(bits, Bit{Pos: pos, Val: val})
	}
	return FromBits(bits...)
}

// MustParse is like Parse but panics on malformed input. It is meant for
// literals in tests and catalogs compiled into the binary.
func MustParse(s string) Diff {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}
