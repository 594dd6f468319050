package bitstream

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
)

// Rect is the area of the bitstream that configures one tile.
// Frame/Bit give the first frame and the first bit within each frame,
// Frames/Bits the extent. Invert marks tiles whose bits read back inverted.
type Rect struct {
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	Frame  int    `yaml:"frame" json:"frame"`
	Frames int    `yaml:"frames" json:"frames"`
	Bit    int    `yaml:"bit" json:"bit"`
	Bits   int    `yaml:"bits" json:"bits"`
	Invert bool   `yaml:"invert,omitempty" json:"invert,omitempty"`
}

func (r Rect) String() string {
	name := r.Name
	if name == "" {
		name = "rect"
	}
	return fmt.Sprintf("%s[F%d+%d B%d+%d]", name, r.Frame, r.Frames, r.Bit, r.Bits)
}

// Validate checks that the rectangle is non-empty and fits the geometry.
func (r Rect) Validate(frames, frameBits int) error {
	if r.Frames <= 0 || r.Bits <= 0 {
		return fmt.Errorf("bitstream: %s is empty", r)
	}
	if r.Frame < 0 || r.Bit < 0 || r.Frame+r.Frames > frames || r.Bit+r.Bits > frameBits {
		return fmt.Errorf("bitstream: %s exceeds device geometry %dx%d", r, frames, frameBits)
	}
	return nil
}

// Contains reports whether a lies inside r.
func (r Rect) Contains(a Addr) bool {
	return a.Frame >= r.Frame && a.Frame < r.Frame+r.Frames &&
		a.Bit >= r.Bit && a.Bit < r.Bit+r.Bits
}

// Overlaps reports whether two rectangles share at least one address.
func (r Rect) Overlaps(o Rect) bool {
	return r.Frame < o.Frame+o.Frames && o.Frame < r.Frame+r.Frames &&
		r.Bit < o.Bit+o.Bits && o.Bit < r.Bit+r.Bits
}

// Locate maps an absolute address onto the first rectangle containing it,
// returning the rectangle-relative position.
func Locate(rects []Rect, a Addr) (bitdiff.BitPos, bool) {
	for i, r := range rects {
		if r.Contains(a) {
			return bitdiff.BitPos{Tile: i, Frame: a.Frame - r.Frame, Bit: a.Bit - r.Bit}, true
		}
	}
	return bitdiff.BitPos{}, false
}

// Abs maps a rectangle-relative position back to an absolute address.
func Abs(rects []Rect, p bitdiff.BitPos) (Addr, error) {
	if p.Tile < 0 || p.Tile >= len(rects) {
		return Addr{}, fmt.Errorf("bitstream: tile index %d out of range (%d rects)", p.Tile, len(rects))
	}
	r := rects[p.Tile]
	if p.Frame < 0 || p.Frame >= r.Frames || p.Bit < 0 || p.Bit >= r.Bits {
		return Addr{}, fmt.Errorf("bitstream: position %s outside %s", p, r)
	}
	return Addr{Frame: r.Frame + p.Frame, Bit: r.Bit + p.Bit}, nil
}

// Observe returns the value of address a as read through rectangle r.
func (r Rect) Observe(b *Bitstream, a Addr) bool {
	return b.Get(a) != r.Invert
}

// ExtractDiff returns the diff of run against base restricted to rects.
// Values are those observed in run, corrected for inverted rectangles.
// Changes outside every rectangle are returned separately so the caller can
// decide whether they are fatal.
func ExtractDiff(base, run *Bitstream, rects []Rect) (bitdiff.Diff, []Addr, error) {
	changed, err := base.Changed(run)
	if err != nil {
		return nil, nil, err
	}
	d := bitdiff.New()
	var outside []Addr
	for _, a := range changed {
		pos, ok := Locate(rects, a)
		if !ok {
			outside = append(outside, a)
			continue
		}
		d[pos] = rects[pos.Tile].Observe(run, a)
	}
	return d, outside, nil
}
