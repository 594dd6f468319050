package bitdiff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BitPos identifies one configuration bit relative to the tiles measured by
// an experiment.
type BitPos struct {
	Tile  int // Index into the experiment's measured rectangles
	Frame int // Frame (word) index relative to the rectangle
	Bit   int // Bit index within the frame, relative to the rectangle
}

// Less orders positions by tile, then frame, then bit.
func (p BitPos) Less(q BitPos) bool {
	if p.Tile != q.Tile {
		return p.Tile < q.Tile
	}
	if p.Frame != q.Frame {
		return p.Frame < q.Frame
	}
	return p.Bit < q.Bit
}

// String renders the position as TILE.FRAME.BIT.
func (p BitPos) String() string {
	return fmt.Sprintf("%d.%d.%d", p.Tile, p.Frame, p.Bit)
}

// MarshalText implements encoding.TextMarshaler.
func (p BitPos) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *BitPos) UnmarshalText(text []byte) error {
	pos, err := ParseBitPos(string(text))
	if err != nil {
		return err
	}
	*p = pos
	return nil
}

// ParseBitPos parses the TILE.FRAME.BIT form produced by String.
func ParseBitPos(s string) (BitPos, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return BitPos{}, fmt.Errorf("bitdiff: invalid bit position %q", s)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return BitPos{}, fmt.Errorf("bitdiff: invalid bit position %q", s)
		}
		nums[i] = n
	}
	return BitPos{Tile: nums[0], Frame: nums[1], Bit: nums[2]}, nil
}

// SortPositions sorts positions in place using BitPos.Less.
func SortPositions(ps []BitPos) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}
