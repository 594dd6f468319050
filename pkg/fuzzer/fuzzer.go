// Package fuzzer describes experiments: a baseline configuration, the one
// change under test, and the resources the experiment needs exclusively.
package fuzzer

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
)

// FeatureID names the diff an experiment produces.
type FeatureID struct {
	Tile string
	Bel  string
	Attr string
	Val  string
}

func (id FeatureID) String() string {
	return id.Tile + ":" + id.Bel + ":" + id.Attr + ":" + id.Val
}

// Less orders ids field by field.
func (id FeatureID) Less(o FeatureID) bool {
	if id.Tile != o.Tile {
		return id.Tile < o.Tile
	}
	if id.Bel != o.Bel {
		return id.Bel < o.Bel
	}
	if id.Attr != o.Attr {
		return id.Attr < o.Attr
	}
	return id.Val < o.Val
}

// IndexedVal names member i of a value family, e.g. one experiment per bit
// of a field.
func IndexedVal(val string, i int) string {
	return val + "#" + strconv.Itoa(i)
}

// Feature is what an experiment measures: the named value and the tile
// rectangles its diff is read from.
type Feature struct {
	ID    FeatureID
	Rects []bitstream.Rect
}

// Builder accumulates an experiment. Every method returns a new Builder and
// leaves the receiver unchanged, so a partially built experiment can be
// shared as a template.
type Builder struct {
	feature Feature
	base    map[Key]Value
	fuzz    map[Key]Change
	mutexes []Mutex
	props   []Prop
	errs    []error
}

// New starts an experiment measuring id over rects.
func New(id FeatureID, rects ...bitstream.Rect) Builder {
	return Builder{feature: Feature{ID: id, Rects: append([]bitstream.Rect(nil), rects...)}}
}

func (b Builder) clone() Builder {
	out := Builder{
		feature: Feature{ID: b.feature.ID, Rects: append([]bitstream.Rect(nil), b.feature.Rects...)},
		base:    make(map[Key]Value, len(b.base)+1),
		fuzz:    make(map[Key]Change, len(b.fuzz)+1),
		mutexes: append([]Mutex(nil), b.mutexes...),
		props:   append([]Prop(nil), b.props...),
		errs:    append([]error(nil), b.errs...),
	}
	for k, v := range b.base {
		out.base[k] = v
	}
	for k, v := range b.fuzz {
		out.fuzz[k] = v
	}
	return out
}

func (b Builder) fail(format string, args ...interface{}) Builder {
	b.errs = append(b.errs, fmt.Errorf("fuzzer: %s: "+format, append([]interface{}{b.feature.ID}, args...)...))
	return b
}

// ID returns the feature being built.
func (b Builder) ID() FeatureID {
	return b.feature.ID
}

// Base adds a baseline setting shared by both runs. Setting a key twice to
// different values is an error reported by Build.
func (b Builder) Base(k Key, v Value) Builder {
	out := b.clone()
	if err := k.Validate(); err != nil {
		return out.fail("%v", err)
	}
	if cur, ok := out.base[k]; ok && cur != v {
		return out.fail("base %s set to both %q and %q", k, cur, v)
	}
	if _, ok := out.fuzz[k]; ok {
		return out.fail("base %s is also fuzzed", k)
	}
	out.base[k] = v
	return out
}

// Fuzz adds a change under test.
func (b Builder) Fuzz(k Key, from, to Value) Builder {
	out := b.clone()
	if err := k.Validate(); err != nil {
		return out.fail("%v", err)
	}
	if from == to {
		return out.fail("fuzz %s does not change (%q)", k, from)
	}
	if _, ok := out.base[k]; ok {
		return out.fail("fuzz %s is also a base setting", k)
	}
	if cur, ok := out.fuzz[k]; ok && cur != (Change{From: from, To: to}) {
		return out.fail("fuzz %s given twice", k)
	}
	out.fuzz[k] = Change{From: from, To: to}
	return out
}

// Mutex requires a resource token.
func (b Builder) Mutex(m Mutex) Builder {
	out := b.clone()
	out.mutexes = append(out.mutexes, m)
	return out
}

// Prop attaches a property applied at Build time.
func (b Builder) Prop(p Prop) Builder {
	out := b.clone()
	if p == nil {
		return out.fail("nil prop")
	}
	out.props = append(out.props, p.Clone())
	return out
}

// Tile adds a measured rectangle.
func (b Builder) Tile(r bitstream.Rect) Builder {
	out := b.clone()
	out.feature.Rects = append(out.feature.Rects, r)
	return out
}

// Build applies the attached properties and validates the result against
// the device described by info.
func (b Builder) Build(info backend.Info) (*Fuzzer, error) {
	cur := b.clone()
	props := cur.props
	cur.props = nil
	for _, p := range props {
		next, err := p.Apply(info, cur)
		if err != nil {
			return nil, fmt.Errorf("fuzzer: %s: prop %s: %w", b.feature.ID, p.Name(), err)
		}
		if len(next.props) != 0 {
			return nil, fmt.Errorf("fuzzer: %s: prop %s attached further props", b.feature.ID, p.Name())
		}
		cur = next
	}
	if len(cur.errs) > 0 {
		return nil, errors.Join(cur.errs...)
	}

	id := cur.feature.ID
	if id.Tile == "" || id.Attr == "" {
		return nil, fmt.Errorf("fuzzer: %s: feature needs tile and attribute", id)
	}
	if len(cur.fuzz) == 0 {
		return nil, fmt.Errorf("fuzzer: %s: nothing fuzzed", id)
	}
	if len(cur.feature.Rects) == 0 {
		return nil, fmt.Errorf("fuzzer: %s: no measured rectangle", id)
	}
	for i, r := range cur.feature.Rects {
		if err := r.Validate(info.Frames, info.FrameBits); err != nil {
			return nil, fmt.Errorf("fuzzer: %s: %w", id, err)
		}
		for _, o := range cur.feature.Rects[:i] {
			if r.Overlaps(o) {
				return nil, fmt.Errorf("fuzzer: %s: rectangles %s and %s overlap", id, o, r)
			}
		}
	}
	owners := make(map[Token]string)
	for _, m := range cur.mutexes {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("fuzzer: %s: %w", id, err)
		}
		if o, ok := owners[m.Token()]; ok && o != m.Owner {
			return nil, fmt.Errorf("fuzzer: %s: mutex %s held as both %q and %q", id, m.Token(), o, m.Owner)
		}
		owners[m.Token()] = m.Owner
	}

	return &Fuzzer{
		feature: cur.feature,
		base:    cur.base,
		fuzz:    cur.fuzz,
		mutexes: owners,
		props:   props,
	}, nil
}

// Fuzzer is a committed, immutable experiment.
type Fuzzer struct {
	feature Feature
	base    map[Key]Value
	fuzz    map[Key]Change
	mutexes map[Token]string
	props   []Prop
}

// ID returns the name of the measured diff.
func (f *Fuzzer) ID() FeatureID { return f.feature.ID }

// Rects returns the measured rectangles.
func (f *Fuzzer) Rects() []bitstream.Rect {
	return append([]bitstream.Rect(nil), f.feature.Rects...)
}

// Base returns a copy of the baseline settings.
func (f *Fuzzer) Base() map[Key]Value {
	out := make(map[Key]Value, len(f.base))
	for k, v := range f.base {
		out[k] = v
	}
	return out
}

// Fuzz returns a copy of the changes under test.
func (f *Fuzzer) Fuzz() map[Key]Change {
	out := make(map[Key]Change, len(f.fuzz))
	for k, v := range f.fuzz {
		out[k] = v
	}
	return out
}

// Mutexes returns the held tokens in a stable order.
func (f *Fuzzer) Mutexes() []Mutex {
	out := make([]Mutex, 0, len(f.mutexes))
	for t, o := range f.mutexes {
		out = append(out, Mutex{Scope: t.Scope, Where: t.Where, Name: t.Name, Owner: o})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Props returns the names of the properties that shaped the experiment.
func (f *Fuzzer) Props() []string {
	out := make([]string, len(f.props))
	for i, p := range f.props {
		out[i] = p.Name()
	}
	return out
}

// ApplyBase writes the baseline settings and the From side of every change
// into cfg.
func (f *Fuzzer) ApplyBase(cfg backend.Config) {
	for k, v := range f.base {
		cfg[k.String()] = v
	}
	for k, c := range f.fuzz {
		setOrDelete(cfg, k, c.From)
	}
}

// ApplyPerturbed writes the To side of every change into cfg.
func (f *Fuzzer) ApplyPerturbed(cfg backend.Config) {
	for k, c := range f.fuzz {
		setOrDelete(cfg, k, c.To)
	}
}

func setOrDelete(cfg backend.Config, k Key, v Value) {
	if v == "" {
		delete(cfg, k.String())
		return
	}
	cfg[k.String()] = v
}

// BaseConfig returns the configuration of the baseline run alone.
func (f *Fuzzer) BaseConfig() backend.Config {
	cfg := backend.Config{}
	f.ApplyBase(cfg)
	return cfg
}

// PerturbedConfig returns the configuration of the perturbed run alone.
func (f *Fuzzer) PerturbedConfig() backend.Config {
	cfg := f.BaseConfig()
	f.ApplyPerturbed(cfg)
	return cfg
}

func (f *Fuzzer) String() string {
	keys := make([]string, 0, len(f.fuzz))
	for k, c := range f.fuzz {
		keys = append(keys, fmt.Sprintf("%s=%q->%q", k, c.From, c.To))
	}
	sort.Strings(keys)
	return f.feature.ID.String() + " [" + strings.Join(keys, " ") + "]"
}
