package tiledb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
)

// Kind selects how an Item's bits encode the attribute.
type Kind int

const (
	// KindBit is a single boolean bit.
	KindBit Kind = iota
	// KindWideBit is a boolean that sets several redundant bits at once.
	KindWideBit
	// KindBitVec is an unsigned integer or raw field, least significant bit first.
	KindBitVec
	// KindEnum maps symbolic values to raw patterns.
	KindEnum
)

var kindNames = map[Kind]string{
	KindBit:     "bit",
	KindWideBit: "widebit",
	KindBitVec:  "bitvec",
	KindEnum:    "enum",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("tiledb: unknown item kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Item is the canonical encoding of one attribute.
//
// For bit, wide-bit and bitvec items, Invert holds one entry per bit: the
// raw bit equals the logical value XOR Invert. For enum items, Values holds
// the raw pattern over Bits for every value name, and Ocd names the
// canonicalization policy that chose the bit order.
type Item struct {
	Kind   Kind              `json:"kind"`
	Bits   []bitdiff.BitPos  `json:"bits"`
	Invert BitVec            `json:"invert,omitempty"`
	Values map[string]BitVec `json:"values,omitempty"`
	Ocd    string            `json:"ocd,omitempty"`
}

// BitItem returns a single-bit item.
func BitItem(pos bitdiff.BitPos, invert bool) Item {
	return Item{Kind: KindBit, Bits: []bitdiff.BitPos{pos}, Invert: BitVec{invert}}
}

// Validate checks the structural invariants of the item.
func (it Item) Validate() error {
	if len(it.Bits) == 0 {
		return fmt.Errorf("tiledb: %s item has no bits", it.Kind)
	}
	seen := make(map[bitdiff.BitPos]bool, len(it.Bits))
	for _, b := range it.Bits {
		if seen[b] {
			return fmt.Errorf("tiledb: bit %s listed twice", b)
		}
		seen[b] = true
	}
	switch it.Kind {
	case KindBit:
		if len(it.Bits) != 1 {
			return fmt.Errorf("tiledb: bit item has %d bits", len(it.Bits))
		}
		fallthrough
	case KindWideBit, KindBitVec:
		if len(it.Invert) != len(it.Bits) {
			return fmt.Errorf("tiledb: %s item has %d bits but %d invert flags", it.Kind, len(it.Bits), len(it.Invert))
		}
		if it.Kind == KindWideBit {
			for _, inv := range it.Invert {
				if inv != it.Invert[0] {
					return fmt.Errorf("tiledb: wide bit with mixed polarity")
				}
			}
		}
	case KindEnum:
		if len(it.Values) == 0 {
			return fmt.Errorf("tiledb: enum item has no values")
		}
		for name, v := range it.Values {
			if len(v) != len(it.Bits) {
				return fmt.Errorf("tiledb: enum value %s has %d bits, item has %d", name, len(v), len(it.Bits))
			}
		}
	default:
		return fmt.Errorf("tiledb: unknown item kind %d", int(it.Kind))
	}
	return nil
}

// ValueNames returns the enum value names in sorted order.
func (it Item) ValueNames() []string {
	names := make([]string, 0, len(it.Values))
	for name := range it.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether two items are identical, including bit order.
func (it Item) Equal(o Item) bool {
	if it.Kind != o.Kind || it.Ocd != o.Ocd || len(it.Bits) != len(o.Bits) {
		return false
	}
	for i := range it.Bits {
		if it.Bits[i] != o.Bits[i] {
			return false
		}
	}
	if !it.Invert.Equal(o.Invert) || len(it.Values) != len(o.Values) {
		return false
	}
	for name, v := range it.Values {
		ov, ok := o.Values[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (it Item) Clone() Item {
	out := Item{
		Kind:   it.Kind,
		Bits:   append([]bitdiff.BitPos(nil), it.Bits...),
		Invert: it.Invert.Clone(),
		Ocd:    it.Ocd,
	}
	if it.Values != nil {
		out.Values = make(map[string]BitVec, len(it.Values))
		for k, v := range it.Values {
			out.Values[k] = v.Clone()
		}
	}
	return out
}

func (it Item) String() string {
	bits := make([]string, len(it.Bits))
	for i, b := range it.Bits {
		bits[i] = b.String()
	}
	s := fmt.Sprintf("%s[%s]", it.Kind, strings.Join(bits, " "))
	if it.Kind == KindEnum {
		parts := make([]string, 0, len(it.Values))
		for _, name := range it.ValueNames() {
			parts = append(parts, name+"="+it.Values[name].String())
		}
		return s + " {" + strings.Join(parts, " ") + "}"
	}
	return s + " inv=" + it.Invert.String()
}
