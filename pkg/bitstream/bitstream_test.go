package bitstream

import (
	"bytes"
	"testing"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
)

func TestSetGetChanged(t *testing.T) {
	a := New(4, 100)
	b := a.Clone()

	b.Set(Addr{Frame: 1, Bit: 3}, true)
	b.Set(Addr{Frame: 3, Bit: 99}, true)
	b.Set(Addr{Frame: 0, Bit: 64}, true)

	if !b.Get(Addr{Frame: 3, Bit: 99}) {
		t.Fatalf("bit F3.B99 not set")
	}
	if a.Get(Addr{Frame: 1, Bit: 3}) {
		t.Fatalf("clone shares storage")
	}

	changed, err := a.Changed(b)
	if err != nil {
		t.Fatalf("Changed failed: %v", err)
	}
	want := []Addr{{0, 64}, {1, 3}, {3, 99}}
	if len(changed) != len(want) {
		t.Fatalf("expected %d changes, got %v", len(want), changed)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], changed[i])
		}
	}
	if b.PopCount() != 3 {
		t.Errorf("expected popcount 3, got %d", b.PopCount())
	}
}

func TestChangedGeometryMismatch(t *testing.T) {
	if _, err := New(2, 32).Changed(New(2, 64)); err == nil {
		t.Fatalf("expected geometry mismatch error")
	}
}

func TestExtractDiff(t *testing.T) {
	rects := []Rect{
		{Name: "CLB_X0Y0", Frame: 0, Frames: 2, Bit: 0, Bits: 16},
		{Name: "IOB_X0Y0", Frame: 2, Frames: 2, Bit: 8, Bits: 8, Invert: true},
	}
	base := New(4, 32)
	base.Set(Addr{Frame: 2, Bit: 9}, true)
	run := base.Clone()
	run.Set(Addr{Frame: 1, Bit: 5}, true)   // CLB tile, set
	run.Set(Addr{Frame: 2, Bit: 9}, false)  // IOB tile, inverted: reads as 1
	run.Set(Addr{Frame: 3, Bit: 31}, true)  // outside every rect

	d, outside, err := ExtractDiff(base, run, rects)
	if err != nil {
		t.Fatalf("ExtractDiff failed: %v", err)
	}
	want := bitdiff.MustParse("{0.1.5:1 1.0.1:1}")
	if !d.Equal(want) {
		t.Errorf("expected %s, got %s", want, d)
	}
	if len(outside) != 1 || outside[0] != (Addr{Frame: 3, Bit: 31}) {
		t.Errorf("expected one change outside rects, got %v", outside)
	}
}

func TestLocateAbs(t *testing.T) {
	rects := []Rect{{Frame: 4, Frames: 2, Bit: 10, Bits: 10}}
	pos, ok := Locate(rects, Addr{Frame: 5, Bit: 12})
	if !ok || pos != (bitdiff.BitPos{Tile: 0, Frame: 1, Bit: 2}) {
		t.Fatalf("unexpected location %v %v", pos, ok)
	}
	a, err := Abs(rects, pos)
	if err != nil || a != (Addr{Frame: 5, Bit: 12}) {
		t.Fatalf("Abs round trip failed: %v %v", a, err)
	}
	if _, err := Abs(rects, bitdiff.BitPos{Tile: 1}); err == nil {
		t.Errorf("expected error for tile out of range")
	}
}

func TestRectValidateOverlap(t *testing.T) {
	r := Rect{Frame: 0, Frames: 2, Bit: 0, Bits: 8}
	if err := r.Validate(2, 8); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := r.Validate(1, 8); err == nil {
		t.Errorf("expected geometry error")
	}
	if err := (Rect{Frames: 0, Bits: 1}).Validate(4, 4); err == nil {
		t.Errorf("expected empty rect error")
	}
	if !r.Overlaps(Rect{Frame: 1, Frames: 1, Bit: 7, Bits: 4}) {
		t.Errorf("expected overlap")
	}
	if r.Overlaps(Rect{Frame: 2, Frames: 1, Bit: 0, Bits: 8}) {
		t.Errorf("unexpected overlap")
	}
}

func TestRawRoundTrip(t *testing.T) {
	b := New(3, 40)
	b.Set(Addr{Frame: 0, Bit: 0}, true)
	b.Set(Addr{Frame: 1, Bit: 33}, true)
	b.Set(Addr{Frame: 2, Bit: 39}, true)

	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if buf.Len() != 3*2*4 {
		t.Fatalf("expected %d bytes, got %d", 3*2*4, buf.Len())
	}

	got, err := Read(bytes.NewReader(buf.Bytes()), 3, 40)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !got.Equal(b) {
		t.Errorf("round trip mismatch")
	}

	if _, err := Read(bytes.NewReader(buf.Bytes()[:5]), 3, 40); err == nil {
		t.Errorf("expected error for truncated input")
	}
	if _, err := Read(bytes.NewReader(append(buf.Bytes(), 0)), 3, 40); err == nil {
		t.Errorf("expected error for trailing data")
	}
}
