package xlat

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

// EnumValue is the diff observed for one value of an enum attribute,
// relative to the common baseline.
type EnumValue struct {
	Name string
	Diff bitdiff.Diff
}

type ocdKind int

const (
	ocdValueOrder ocdKind = iota
	ocdBitOrder
	ocdFixed
	ocdMux
)

// OcdMode selects the bit order of an enum item. The zero value is
// OcdValueOrder.
type OcdMode struct {
	kind  ocdKind
	order []bitdiff.BitPos
}

// OcdValueOrder orders bits by first appearance in declared value order,
// ties broken by location.
func OcdValueOrder() OcdMode { return OcdMode{kind: ocdValueOrder} }

// OcdBitOrder orders bits by location.
func OcdBitOrder() OcdMode { return OcdMode{kind: ocdBitOrder} }

// OcdFixed uses the given order, which must cover every observed bit.
func OcdFixed(order ...bitdiff.BitPos) OcdMode {
	return OcdMode{kind: ocdFixed, order: append([]bitdiff.BitPos(nil), order...)}
}

// OcdMux requires the values to be pairwise bit-disjoint and orders bits by
// first appearance, so that later values encode to larger integers.
func OcdMux() OcdMode { return OcdMode{kind: ocdMux} }

func (m OcdMode) String() string {
	switch m.kind {
	case ocdBitOrder:
		return "bit"
	case ocdFixed:
		return "fixed"
	case ocdMux:
		return "mux"
	default:
		return "value"
	}
}

// ParseOcdMode accepts the names produced by String, except "fixed" which
// needs an explicit order.
func ParseOcdMode(s string) (OcdMode, error) {
	switch s {
	case "", "value":
		return OcdValueOrder(), nil
	case "bit":
		return OcdBitOrder(), nil
	case "mux":
		return OcdMux(), nil
	default:
		return OcdMode{}, fmt.Errorf("xlat: unknown ocd mode %q", s)
	}
}

// XlatEnumRaw checks the observations of an enum and returns its bits in
// canonical order together with the raw pattern of every value. It is the
// building block of XlatEnumOcd for callers that post-process patterns.
func XlatEnumRaw(values []EnumValue, mode OcdMode) ([]bitdiff.BitPos, map[string]tiledb.BitVec, error) {
	values, err := dedupe(values)
	if err != nil {
		return nil, nil, err
	}

	// Each observed location carries the value it takes away from baseline.
	observed := make(map[bitdiff.BitPos]bool)
	owner := make(map[bitdiff.BitPos]string)
	for _, v := range values {
		for p, val := range v.Diff {
			prev, ok := observed[p]
			if !ok {
				observed[p] = val
				owner[p] = v.Name
				continue
			}
			if mode.kind == ocdMux {
				return nil, nil, fail("xlat_enum", bitdiff.Diff{p: val}, ErrNotDisjoint,
					"bit shared by %s and %s", owner[p], v.Name)
			}
			if prev != val {
				return nil, nil, fail("xlat_enum", bitdiff.Diff{p: val}, ErrConflictingPolarity,
					"bit set by %s and cleared by %s", owner[p], v.Name)
			}
		}
	}

	bits, err := orderBits(values, observed, mode)
	if err != nil {
		return nil, nil, err
	}
	if len(bits) == 0 {
		return nil, nil, fail("xlat_enum", nil, ErrBitCount, "no value changes any bit")
	}

	patterns := make(map[string]tiledb.BitVec, len(values))
	byPattern := make(map[string]string, len(values))
	for _, v := range values {
		pat := make(tiledb.BitVec, len(bits))
		for i, p := range bits {
			if val, ok := v.Diff[p]; ok {
				pat[i] = val
			} else if obs, ok := observed[p]; ok {
				pat[i] = !obs
			}
		}
		if other, ok := byPattern[pat.String()]; ok {
			return nil, nil, fail("xlat_enum", v.Diff, ErrAmbiguous,
				"%s and %s both encode as %s", other, v.Name, pat)
		}
		byPattern[pat.String()] = v.Name
		patterns[v.Name] = pat
	}
	return bits, patterns, nil
}

// dedupe drops repeated names whose diffs agree.
func dedupe(values []EnumValue) ([]EnumValue, error) {
	seen := make(map[string]bitdiff.Diff, len(values))
	out := make([]EnumValue, 0, len(values))
	for _, v := range values {
		if prev, ok := seen[v.Name]; ok {
			if !prev.Equal(v.Diff) {
				return nil, fail("xlat_enum "+v.Name, prev.Not().Combine(v.Diff), ErrAmbiguous,
					"value %s observed with different diffs", v.Name)
			}
			continue
		}
		seen[v.Name] = v.Diff
		out = append(out, v)
	}
	return out, nil
}

func orderBits(values []EnumValue, observed map[bitdiff.BitPos]bool, mode OcdMode) ([]bitdiff.BitPos, error) {
	switch mode.kind {
	case ocdBitOrder:
		out := make([]bitdiff.BitPos, 0, len(observed))
		for p := range observed {
			out = append(out, p)
		}
		bitdiff.SortPositions(out)
		return out, nil

	case ocdFixed:
		seen := make(map[bitdiff.BitPos]bool, len(mode.order))
		for _, p := range mode.order {
			if seen[p] {
				return nil, fmt.Errorf("xlat: fixed order lists %s twice", p)
			}
			seen[p] = true
		}
		var missing []bitdiff.BitPos
		for p := range observed {
			if !seen[p] {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			bitdiff.SortPositions(missing)
			residual := bitdiff.New()
			for _, p := range missing {
				residual[p] = observed[p]
			}
			return nil, fail("xlat_enum", residual, ErrBitCount, "bits missing from fixed order")
		}
		return append([]bitdiff.BitPos(nil), mode.order...), nil

	default:
		var out []bitdiff.BitPos
		placed := make(map[bitdiff.BitPos]bool, len(observed))
		for _, v := range values {
			for _, p := range v.Diff.Positions() {
				if !placed[p] {
					placed[p] = true
					out = append(out, p)
				}
			}
		}
		return out, nil
	}
}

// XlatEnumOcd translates enum observations with the given bit order policy.
func XlatEnumOcd(values []EnumValue, mode OcdMode) (tiledb.Item, error) {
	bits, patterns, err := XlatEnumRaw(values, mode)
	if err != nil {
		return tiledb.Item{}, err
	}
	return tiledb.Item{
		Kind:   tiledb.KindEnum,
		Bits:   bits,
		Values: patterns,
		Ocd:    mode.String(),
	}, nil
}

// XlatEnum translates enum observations in value order.
func XlatEnum(values []EnumValue) (tiledb.Item, error) {
	return XlatEnumOcd(values, OcdValueOrder())
}

// XlatEnumDefault is XlatEnum with an implicit empty diff for the baseline
// value name, unless that name was observed explicitly.
func XlatEnumDefault(values []EnumValue, name string) (tiledb.Item, error) {
	return XlatEnumDefaultOcd(values, name, OcdValueOrder())
}

// XlatEnumDefaultOcd is XlatEnumDefault with an explicit bit order policy.
func XlatEnumDefaultOcd(values []EnumValue, name string, mode OcdMode) (tiledb.Item, error) {
	return XlatEnumOcd(withDefault(values, name), mode)
}

// XlatEnumAttr translates observations named ATTR:VAL, keeping only VAL.
func XlatEnumAttr(values []EnumValue) (tiledb.Item, error) {
	out := make([]EnumValue, len(values))
	for i, v := range values {
		name := v.Name
		if _, val, ok := strings.Cut(name, ":"); ok {
			name = val
		}
		out[i] = EnumValue{Name: name, Diff: v.Diff}
	}
	return XlatEnum(out)
}

// MuxNone is the value name of an unconnected mux.
const MuxNone = "NONE"

// XlatMux translates the inputs of a routing mux. The unconnected state is
// added as MuxNone with an empty diff.
func XlatMux(values []EnumValue) (tiledb.Item, error) {
	return XlatEnumOcd(withDefault(values, MuxNone), OcdMux())
}

func withDefault(values []EnumValue, name string) []EnumValue {
	for _, v := range values {
		if v.Name == name {
			return values
		}
	}
	return append(append([]EnumValue(nil), values...), EnumValue{Name: name, Diff: bitdiff.New()})
}
