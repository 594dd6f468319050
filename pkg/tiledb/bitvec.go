package tiledb

import (
	"fmt"
	"strings"
)

// BitVec is an ordered bit pattern, index 0 first (least significant).
type BitVec []bool

// NewBitVec returns a zero pattern of width n.
func NewBitVec(n int) BitVec {
	return make(BitVec, n)
}

// BitVecFromUint returns the low n bits of v.
func BitVecFromUint(v uint64, n int) BitVec {
	out := make(BitVec, n)
	for i := 0; i < n && i < 64; i++ {
		out[i] = v&(1<<uint(i)) != 0
	}
	return out
}

// Uint returns the pattern as an unsigned integer. Patterns wider than 64
// bits are rejected.
func (v BitVec) Uint() (uint64, error) {
	if len(v) > 64 {
		return 0, fmt.Errorf("tiledb: %d-bit value does not fit in uint64", len(v))
	}
	var out uint64
	for i, b := range v {
		if b {
			out |= 1 << uint(i)
		}
	}
	return out, nil
}

// Equal reports whether both patterns are identical.
func (v BitVec) Equal(o BitVec) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Not returns the complement.
func (v BitVec) Not() BitVec {
	out := make(BitVec, len(v))
	for i, b := range v {
		out[i] = !b
	}
	return out
}

// Xor returns v ^ o. Both must have the same width.
func (v BitVec) Xor(o BitVec) BitVec {
	if len(v) != len(o) {
		panic(fmt.Sprintf("tiledb: xor of %d-bit and %d-bit patterns", len(v), len(o)))
	}
	out := make(BitVec, len(v))
	for i := range v {
		out[i] = v[i] != o[i]
	}
	return out
}

// Clone returns an independent copy.
func (v BitVec) Clone() BitVec {
	return append(BitVec(nil), v...)
}

// String renders the pattern most significant bit first, like a binary
// literal.
func (v BitVec) String() string {
	var sb strings.Builder
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ParseBitVec reads the form produced by String.
func ParseBitVec(s string) (BitVec, error) {
	out := make(BitVec, len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			out[len(s)-1-i] = true
		default:
			return nil, fmt.Errorf("tiledb: invalid bit pattern %q", s)
		}
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (v BitVec) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *BitVec) UnmarshalText(text []byte) error {
	bv, err := ParseBitVec(string(text))
	if err != nil {
		return err
	}
	*v = bv
	return nil
}
