package catalog

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/xlat"
)

// baseProp sets a key in both runs for keys no dedicated prop covers.
type baseProp struct {
	Assignment
}

func (p baseProp) Name() string { return "base " + p.Assignment.String() }

func (p baseProp) Apply(_ backend.Info, b fuzzer.Builder) (fuzzer.Builder, error) {
	return b.Base(p.Key, p.Value), nil
}

func (p baseProp) Clone() fuzzer.Prop { return p }

func assignmentProp(a Assignment) fuzzer.Prop {
	switch a.Key.Kind {
	case fuzzer.KindGlobal:
		return fuzzer.GlobalProp{Option: a.Key.Name, Value: a.Value}
	case fuzzer.KindPin:
		return fuzzer.PinProp{Pin: a.Key.Name, Net: a.Value}
	case fuzzer.KindMode:
		return fuzzer.ModeProp{Bel: a.Key.Bel, Mode: a.Value}
	default:
		return baseProp{a}
	}
}

func (c *Catalog) attribute(tile, bel, attr string) (Attribute, bool) {
	for _, a := range c.Attributes {
		if a.Tile == tile && a.Bel == bel && a.Name == attr {
			return a, true
		}
	}
	return Attribute{}, false
}

// configValue maps a value name of a onto what the backend is given. The
// off state of an unset bool and the unconnected mux input are absent.
func configValue(a Attribute, v string) fuzzer.Value {
	switch a.Kind {
	case KindMux:
		if v == xlat.MuxNone {
			return ""
		}
	case KindBool, KindWideBit:
		if a.Unset && v == a.Values[0] {
			return ""
		}
	}
	return v
}

// bitvecValue renders a width-bit value MSB first with only bit i set, or
// all zeros for i < 0.
func bitvecValue(width, i int) string {
	b := []byte(strings.Repeat("0", width))
	if i >= 0 {
		b[width-1-i] = '1'
	}
	return string(b)
}

// builder returns the shared setup of every experiment measuring a.
func (c *Catalog) builder(a Attribute, val string) (fuzzer.Builder, error) {
	b := fuzzer.New(fuzzer.FeatureID{Tile: a.Tile, Bel: a.Bel, Attr: a.Name, Val: val}, c.Rects(a.Tile)...)
	for _, t := range a.ExtraTiles {
		for _, r := range c.Tiles[t] {
			b = b.Prop(fuzzer.ExtraTileProp{Rect: r})
		}
	}
	for _, s := range a.Base {
		as, err := ParseAssignment(s)
		if err != nil {
			return b, err
		}
		p := assignmentProp(as)
		if len(a.Families) > 0 {
			p = fuzzer.FamilyProp{Families: a.Families, Inner: p}
		}
		b = b.Prop(p)
	}
	for _, s := range a.Mutexes {
		m, err := ParseMutex(s)
		if err != nil {
			return b, err
		}
		b = b.Prop(fuzzer.MutexProp{Mutex: m})
	}
	for _, dep := range a.Depends {
		d, ok := c.attribute(a.Tile, dep.Bel, dep.Attr)
		if !ok {
			return b, fmt.Errorf("catalog: %s: unknown dependency %s.%s", a, dep.Bel, dep.Attr)
		}
		k, err := d.ConfigKey()
		if err != nil {
			return b, err
		}
		b = b.Fuzz(k, configValue(d, dep.From), configValue(d, dep.To))
	}
	return b, nil
}

// Experiments returns the experiments measuring a, one per measured value.
func (c *Catalog) Experiments(a Attribute) ([]*fuzzer.Fuzzer, error) {
	key, err := a.ConfigKey()
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", a, err)
	}

	type change struct {
		val      string
		from, to fuzzer.Value
	}
	var changes []change
	switch a.Kind {
	case KindBool, KindWideBit:
		off, on := a.Values[0], a.Values[1]
		changes = append(changes, change{on, configValue(a, off), on})
	case KindEnum:
		for _, v := range a.Values {
			if v != a.Default {
				changes = append(changes, change{v, a.Default, v})
			}
		}
	case KindMux:
		for _, v := range a.Values {
			changes = append(changes, change{v, "", v})
		}
	case KindBitvec:
		for i := 0; i < a.Width; i++ {
			changes = append(changes, change{fuzzer.IndexedVal(a.Name, i), bitvecValue(a.Width, -1), bitvecValue(a.Width, i)})
		}
	default:
		return nil, fmt.Errorf("catalog: %s: unknown kind %q", a, a.Kind)
	}

	out := make([]*fuzzer.Fuzzer, 0, len(changes))
	for _, ch := range changes {
		b, err := c.builder(a, ch.val)
		if err != nil {
			return nil, err
		}
		f, err := b.Fuzz(key, ch.from, ch.to).Build(c.Info)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", a, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Generate returns the experiments for every attribute, in catalog order.
func (c *Catalog) Generate() ([]*fuzzer.Fuzzer, error) {
	var out []*fuzzer.Fuzzer
	for _, a := range c.Attributes {
		fs, err := c.Experiments(a)
		if err != nil {
			return nil, err
		}
		out = append(out, fs...)
	}
	return out, nil
}
