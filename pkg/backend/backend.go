// Package backend defines the oracle boundary: something that turns a
// configuration into a raw bitstream snapshot.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
)

// Info describes the device a backend produces bitstreams for.
type Info struct {
	Name      string `yaml:"name" json:"name"`
	Family    string `yaml:"family" json:"family"`
	Frames    int    `yaml:"frames" json:"frames"`
	FrameBits int    `yaml:"frame_bits" json:"frame_bits"`
}

// Validate checks the geometry.
func (i Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("backend: device name must not be empty")
	}
	if i.Frames <= 0 || i.FrameBits <= 0 {
		return fmt.Errorf("backend: %s: invalid geometry %dx%d", i.Name, i.Frames, i.FrameBits)
	}
	return nil
}

// Config is a resolved configuration in the backend's vocabulary, keyed by
// the textual form of a configuration key.
type Config map[string]string

// Clone returns an independent copy.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the configuration as sorted key=value lines.
func (c Config) String() string {
	var sb strings.Builder
	for _, k := range c.Keys() {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(c[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Backend produces a bitstream for a configuration. Identical
// configurations must produce identical bitstreams.
type Backend interface {
	Info() Info
	Run(ctx context.Context, cfg Config) (*bitstream.Bitstream, error)
}

// ErrNotImplemented lets backends signal that a requested capability is not
// available.
var ErrNotImplemented = errors.New("backend: not implemented")

// CheckGeometry verifies that b matches the geometry announced by info.
func CheckGeometry(info Info, b *bitstream.Bitstream) error {
	if b.Frames != info.Frames || b.FrameBits != info.FrameBits {
		return fmt.Errorf("backend: %s returned %dx%d bitstream, want %dx%d",
			info.Name, b.Frames, b.FrameBits, info.Frames, info.FrameBits)
	}
	return nil
}
