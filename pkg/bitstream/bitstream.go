// Package bitstream holds raw configuration snapshots returned by a backend
// and maps them onto the tile rectangles an experiment measures.
//
// A Bitstream is a frame-major bit matrix: Frames frames of FrameBits bits
// each. Tiles are rectangles in that matrix. The diff of two snapshots over
// a list of rectangles is expressed in rectangle-relative coordinates, so the
// same attribute yields the same Diff whichever tile instance was measured.
package bitstream

import (
	"fmt"
	"math/bits"
)

// Addr is an absolute bit address inside a bitstream.
type Addr struct {
	Frame int
	Bit   int
}

func (a Addr) String() string {
	return fmt.Sprintf("F%d.B%d", a.Frame, a.Bit)
}

// Bitstream is a dense snapshot of every configuration bit of a device.
type Bitstream struct {
	Frames    int
	FrameBits int

	words []uint64 // frame-major, wordsPerFrame words per frame
}

// New returns an all-zero bitstream with the given geometry.
func New(frames, frameBits int) *Bitstream {
	if frames < 0 || frameBits < 0 {
		panic(fmt.Sprintf("bitstream: invalid geometry %dx%d", frames, frameBits))
	}
	wpf := (frameBits + 63) / 64
	return &Bitstream{
		Frames:    frames,
		FrameBits: frameBits,
		words:     make([]uint64, frames*wpf),
	}
}

func (b *Bitstream) wordsPerFrame() int {
	return (b.FrameBits + 63) / 64
}

// InBounds reports whether a lies inside the bitstream.
func (b *Bitstream) InBounds(a Addr) bool {
	return a.Frame >= 0 && a.Frame < b.Frames && a.Bit >= 0 && a.Bit < b.FrameBits
}

func (b *Bitstream) index(a Addr) (int, uint64) {
	if !b.InBounds(a) {
		panic(fmt.Sprintf("bitstream: address %s outside %dx%d", a, b.Frames, b.FrameBits))
	}
	return a.Frame*b.wordsPerFrame() + a.Bit/64, 1 << uint(a.Bit%64)
}

// Get returns the bit at a.
func (b *Bitstream) Get(a Addr) bool {
	i, mask := b.index(a)
	return b.words[i]&mask != 0
}

// Set stores v at a.
func (b *Bitstream) Set(a Addr, v bool) {
	i, mask := b.index(a)
	if v {
		b.words[i] |= mask
	} else {
		b.words[i] &^= mask
	}
}

// Clone returns an independent copy.
func (b *Bitstream) Clone() *Bitstream {
	out := &Bitstream{Frames: b.Frames, FrameBits: b.FrameBits, words: make([]uint64, len(b.words))}
	copy(out.words, b.words)
	return out
}

// SameGeometry reports whether both bitstreams have the same dimensions.
func (b *Bitstream) SameGeometry(o *Bitstream) bool {
	return b.Frames == o.Frames && b.FrameBits == o.FrameBits
}

// Equal reports whether both bitstreams hold the same bits.
func (b *Bitstream) Equal(o *Bitstream) bool {
	if !b.SameGeometry(o) {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// PopCount returns the number of set bits.
func (b *Bitstream) PopCount() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Changed returns the addresses whose value differs between b and o, in
// frame then bit order.
func (b *Bitstream) Changed(o *Bitstream) ([]Addr, error) {
	if !b.SameGeometry(o) {
		return nil, fmt.Errorf("bitstream: geometry mismatch %dx%d vs %dx%d",
			b.Frames, b.FrameBits, o.Frames, o.FrameBits)
	}
	var out []Addr
	wpf := b.wordsPerFrame()
	for i, w := range b.words {
		x := w ^ o.words[i]
		for x != 0 {
			tz := bits.TrailingZeros64(x)
			x &= x - 1
			out = append(out, Addr{Frame: i / wpf, Bit: (i%wpf)*64 + tz})
		}
	}
	return out, nil
}
