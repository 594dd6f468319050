// Package catalog describes the attributes of a device family declaratively
// and turns the description into experiments and collection steps.
//
// A catalog is a YAML document:
//
//	info:       {name: toy4, family: toy, frames: 4, frame_bits: 32}
//	tiles:      {CLB0: [{frame: 0, frames: 2, bit: 0, bits: 8}]}
//	attributes:
//	  - {tile: CLB0, bel: SLICE0, attr: FFSYNC, kind: bool, values: [ASYNC, SYNC]}
//
// An optional sim section holds a rule table for the simulated backend.
package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/xlat"
)

// Kind is the encoding family of an attribute.
type Kind string

const (
	KindBool    Kind = "bool"    // Two values, one bit
	KindWideBit Kind = "widebit" // Two values, several co-varying bits
	KindEnum    Kind = "enum"    // N values, baseline is Default
	KindMux     Kind = "mux"     // Routing inputs, baseline is unconnected
	KindBitvec  Kind = "bitvec"  // Width-bit field, one experiment per bit
)

// Catalog is the declarative description of one device.
type Catalog struct {
	Info       backend.Info                `yaml:"info"`
	Tiles      map[string][]bitstream.Rect `yaml:"tiles"`
	Attributes []Attribute                 `yaml:"attributes"`
	Sim        *Sim                        `yaml:"sim,omitempty"`
}

// Sim is the rule table of a simulated device.
type Sim struct {
	Defaults []bitstream.Addr `yaml:"defaults,omitempty"`
	Rules    []backend.Rule   `yaml:"rules"`
}

// Dependency is another attribute of the same tile that must change along
// with the attribute under test. Its contribution is cancelled before
// translation, so it must appear earlier in the catalog.
type Dependency struct {
	Bel  string `yaml:"bel"`
	Attr string `yaml:"attr"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Attribute describes one configuration knob and how to measure it.
type Attribute struct {
	Tile    string   `yaml:"tile"`
	Bel     string   `yaml:"bel"`
	Name    string   `yaml:"attr"`
	Kind    Kind     `yaml:"kind"`
	Key     string   `yaml:"key,omitempty"` // Defaults to attr:BEL.ATTR
	Values  []string `yaml:"values,omitempty"`
	Default string   `yaml:"default,omitempty"`
	Unset   bool     `yaml:"unset,omitempty"` // bool: the off state leaves the key unset
	Width   int      `yaml:"width,omitempty"`
	Ocd     string   `yaml:"ocd,omitempty"`
	Order   []string `yaml:"order,omitempty"` // Bit order for ocd: fixed

	Base       []string     `yaml:"base,omitempty"`        // Assignments shared by both runs
	Mutexes    []string     `yaml:"mutexes,omitempty"`     // Tokens held while measuring
	ExtraTiles []string     `yaml:"extra_tiles,omitempty"` // Further tiles to measure
	Families   []string     `yaml:"families,omitempty"`    // Restrict Base to these families
	Depends    []Dependency `yaml:"depends,omitempty"`
}

func (a Attribute) String() string {
	return a.Tile + ":" + a.Bel + ":" + a.Name
}

// ConfigKey returns the key the attribute is set through.
func (a Attribute) ConfigKey() (fuzzer.Key, error) {
	if a.Key == "" {
		k := fuzzer.BelAttr(a.Bel, a.Name)
		return k, k.Validate()
	}
	return ParseKey(a.Key)
}

// OcdMode returns the bit order policy for enum attributes.
func (a Attribute) OcdMode() (xlat.OcdMode, error) {
	if a.Ocd != "fixed" {
		if len(a.Order) > 0 {
			return xlat.OcdMode{}, fmt.Errorf("catalog: %s: order given without ocd: fixed", a)
		}
		return xlat.ParseOcdMode(a.Ocd)
	}
	order := make([]bitdiff.BitPos, 0, len(a.Order))
	for _, s := range a.Order {
		p, err := bitdiff.ParseBitPos(s)
		if err != nil {
			return xlat.OcdMode{}, fmt.Errorf("catalog: %s: %w", a, err)
		}
		order = append(order, p)
	}
	if len(order) == 0 {
		return xlat.OcdMode{}, fmt.Errorf("catalog: %s: ocd: fixed needs an order", a)
	}
	return xlat.OcdFixed(order...), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Parse reads a catalog document and validates it.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) (*Catalog, error) {
	return Parse(bytes.NewReader(data))
}

// LoadFile reads and validates the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the geometry, tile references and the per-kind shape of
// every attribute.
func (c *Catalog) Validate() error {
	if err := c.Info.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	for name, rects := range c.Tiles {
		if len(rects) == 0 {
			return fmt.Errorf("catalog: tile %s has no rectangles", name)
		}
		for _, r := range rects {
			if err := r.Validate(c.Info.Frames, c.Info.FrameBits); err != nil {
				return fmt.Errorf("catalog: tile %s: %w", name, err)
			}
		}
	}

	seen := make(map[string]int)
	for i, a := range c.Attributes {
		if err := c.validateAttr(a, seen); err != nil {
			return err
		}
		seen[a.Tile+"\x00"+a.Bel+"\x00"+a.Name] = i
	}

	if c.Sim != nil {
		if _, err := backend.NewSimBackend(c.SimDevice()); err != nil {
			return fmt.Errorf("catalog: sim: %w", err)
		}
	}
	return nil
}

func (c *Catalog) validateAttr(a Attribute, seen map[string]int) error {
	if a.Tile == "" || a.Name == "" {
		return fmt.Errorf("catalog: attribute needs tile and attr: %+v", a)
	}
	if _, dup := seen[a.Tile+"\x00"+a.Bel+"\x00"+a.Name]; dup {
		return fmt.Errorf("catalog: %s listed twice", a)
	}
	if _, ok := c.Tiles[a.Tile]; !ok {
		return fmt.Errorf("catalog: %s: unknown tile %s", a, a.Tile)
	}
	for _, t := range a.ExtraTiles {
		if _, ok := c.Tiles[t]; !ok {
			return fmt.Errorf("catalog: %s: unknown extra tile %s", a, t)
		}
	}
	if _, err := a.ConfigKey(); err != nil {
		return fmt.Errorf("catalog: %s: %w", a, err)
	}
	for _, s := range a.Base {
		if _, err := ParseAssignment(s); err != nil {
			return fmt.Errorf("catalog: %s: %w", a, err)
		}
	}
	for _, s := range a.Mutexes {
		if _, err := ParseMutex(s); err != nil {
			return fmt.Errorf("catalog: %s: %w", a, err)
		}
	}

	switch a.Kind {
	case KindBool, KindWideBit:
		if len(a.Values) != 2 {
			return fmt.Errorf("catalog: %s: %s needs values [off, on]", a, a.Kind)
		}
		if a.Default != "" && a.Default != a.Values[0] {
			return fmt.Errorf("catalog: %s: default must be the off value %s", a, a.Values[0])
		}
	case KindEnum:
		if len(a.Values) < 2 {
			return fmt.Errorf("catalog: %s: enum needs at least two values", a)
		}
		if !contains(a.Values, a.Default) {
			return fmt.Errorf("catalog: %s: default %q is not a value", a, a.Default)
		}
		if _, err := a.OcdMode(); err != nil {
			return err
		}
	case KindMux:
		if len(a.Values) == 0 {
			return fmt.Errorf("catalog: %s: mux needs inputs", a)
		}
		if contains(a.Values, xlat.MuxNone) {
			return fmt.Errorf("catalog: %s: %s is implicit", a, xlat.MuxNone)
		}
	case KindBitvec:
		if a.Width < 1 || a.Width > 64 {
			return fmt.Errorf("catalog: %s: bitvec width %d out of range", a, a.Width)
		}
	default:
		return fmt.Errorf("catalog: %s: unknown kind %q", a, a.Kind)
	}

	for _, dep := range a.Depends {
		i, ok := seen[a.Tile+"\x00"+dep.Bel+"\x00"+dep.Attr]
		if !ok {
			return fmt.Errorf("catalog: %s: dependency %s.%s must be listed earlier in tile %s", a, dep.Bel, dep.Attr, a.Tile)
		}
		d := c.Attributes[i]
		switch d.Kind {
		case KindBool, KindWideBit, KindEnum, KindMux:
		default:
			return fmt.Errorf("catalog: %s: cannot depend on %s attribute %s", a, d.Kind, d)
		}
		for _, v := range []string{dep.From, dep.To} {
			if !d.hasValue(v) {
				return fmt.Errorf("catalog: %s: dependency %s has no value %q", a, d, v)
			}
		}
		if dep.From == dep.To {
			return fmt.Errorf("catalog: %s: dependency %s does not change", a, d)
		}
	}
	return nil
}

// hasValue reports whether v names a value of a. A mux is also
// unconnected as "" or NONE.
func (a Attribute) hasValue(v string) bool {
	if a.Kind == KindMux && (v == "" || v == xlat.MuxNone) {
		return true
	}
	return contains(a.Values, v)
}

// Rects returns the rectangles of a tile.
func (c *Catalog) Rects(tile string) []bitstream.Rect {
	return append([]bitstream.Rect(nil), c.Tiles[tile]...)
}

// SimDevice returns the simulated device described by the sim section.
func (c *Catalog) SimDevice() backend.SimDevice {
	dev := backend.SimDevice{Info: c.Info}
	if c.Sim != nil {
		dev.Defaults = c.Sim.Defaults
		dev.Rules = c.Sim.Rules
	}
	return dev
}

// Marshal renders the catalog back to YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("catalog: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("catalog: encode: %w", err)
	}
	return buf.Bytes(), nil
}
