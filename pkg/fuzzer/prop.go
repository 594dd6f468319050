package fuzzer

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
)

// Prop is a reusable piece of experiment setup, applied to the builder when
// the experiment is committed. Clone returns a copy safe to store alongside
// the experiment.
type Prop interface {
	Name() string
	Apply(info backend.Info, b Builder) (Builder, error)
	Clone() Prop
}

// PinProp connects a package pin in both runs.
type PinProp struct {
	Pin string
	Net string
}

func (p PinProp) Name() string { return "pin " + p.Pin }

func (p PinProp) Apply(_ backend.Info, b Builder) (Builder, error) {
	net := p.Net
	if net == "" {
		net = "1"
	}
	return b.Base(PinConn(p.Pin), net), nil
}

func (p PinProp) Clone() Prop { return p }

// ModeProp puts a bel in a mode in both runs.
type ModeProp struct {
	Bel  string
	Mode string
}

func (p ModeProp) Name() string { return "mode " + p.Bel + "=" + p.Mode }

func (p ModeProp) Apply(_ backend.Info, b Builder) (Builder, error) {
	if p.Mode == "" {
		return b, fmt.Errorf("empty mode for %s", p.Bel)
	}
	return b.Base(BelMode(p.Bel), p.Mode), nil
}

func (p ModeProp) Clone() Prop { return p }

// GlobalProp sets a tool option in both runs.
type GlobalProp struct {
	Option string
	Value  string
}

func (p GlobalProp) Name() string { return "global " + p.Option + "=" + p.Value }

func (p GlobalProp) Apply(_ backend.Info, b Builder) (Builder, error) {
	return b.Base(GlobalOpt(p.Option), p.Value), nil
}

func (p GlobalProp) Clone() Prop { return p }

// MutexProp requires a resource token.
type MutexProp struct {
	Mutex Mutex
}

func (p MutexProp) Name() string { return "mutex " + p.Mutex.String() }

func (p MutexProp) Apply(_ backend.Info, b Builder) (Builder, error) {
	if err := p.Mutex.Validate(); err != nil {
		return b, err
	}
	return b.Mutex(p.Mutex), nil
}

func (p MutexProp) Clone() Prop { return p }

// ExtraTileProp measures an additional rectangle, for attributes whose
// bits spill into a neighbouring tile.
type ExtraTileProp struct {
	Rect bitstream.Rect
}

func (p ExtraTileProp) Name() string { return "tile " + p.Rect.String() }

func (p ExtraTileProp) Apply(info backend.Info, b Builder) (Builder, error) {
	if err := p.Rect.Validate(info.Frames, info.FrameBits); err != nil {
		return b, err
	}
	return b.Tile(p.Rect), nil
}

func (p ExtraTileProp) Clone() Prop { return p }

// FamilyProp applies Inner only on devices of the listed families. Option
// strings often differ between chip generations.
type FamilyProp struct {
	Families []string
	Inner    Prop
}

func (p FamilyProp) Name() string {
	if p.Inner == nil {
		return fmt.Sprintf("family %v: <nil>", p.Families)
	}
	return fmt.Sprintf("family %v: %s", p.Families, p.Inner.Name())
}

func (p FamilyProp) Apply(info backend.Info, b Builder) (Builder, error) {
	if p.Inner == nil {
		return b, fmt.Errorf("fuzzer: family prop without inner prop")
	}
	for _, f := range p.Families {
		if f == info.Family {
			return p.Inner.Apply(info, b)
		}
	}
	return b, nil
}

func (p FamilyProp) Clone() Prop {
	out := FamilyProp{Families: append([]string(nil), p.Families...)}
	if p.Inner != nil {
		out.Inner = p.Inner.Clone()
	}
	return out
}
