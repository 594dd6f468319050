package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
)

// Wildcard as a rule condition value matches any value of a present key.
const Wildcard = "*"

// Rule sets and clears bits when every condition in When holds.
type Rule struct {
	When  map[string]string `yaml:"when"`
	Set   []bitstream.Addr  `yaml:"set,omitempty"`
	Clear []bitstream.Addr  `yaml:"clear,omitempty"`
}

// Matches reports whether cfg satisfies every condition of r.
func (r Rule) Matches(cfg Config) bool {
	for k, want := range r.When {
		got, ok := cfg[k]
		if !ok {
			return false
		}
		if want != Wildcard && got != want {
			return false
		}
	}
	return true
}

// SimDevice is a rule table emulating a device. Rules apply in order on top
// of the default bits, so later rules win.
type SimDevice struct {
	Info     Info             `yaml:"info"`
	Defaults []bitstream.Addr `yaml:"defaults"`
	Rules    []Rule           `yaml:"rules"`
}

// Validate checks the geometry and that every address is in bounds.
func (d SimDevice) Validate() error {
	if err := d.Info.Validate(); err != nil {
		return err
	}
	probe := bitstream.New(d.Info.Frames, d.Info.FrameBits)
	check := func(what string, addrs []bitstream.Addr) error {
		for _, a := range addrs {
			if !probe.InBounds(a) {
				return fmt.Errorf("backend: %s: %s address %s out of bounds", d.Info.Name, what, a)
			}
		}
		return nil
	}
	if err := check("default", d.Defaults); err != nil {
		return err
	}
	for i, r := range d.Rules {
		if len(r.When) == 0 {
			return fmt.Errorf("backend: %s: rule %d has no condition", d.Info.Name, i)
		}
		if err := check(fmt.Sprintf("rule %d", i), append(append([]bitstream.Addr(nil), r.Set...), r.Clear...)); err != nil {
			return err
		}
	}
	return nil
}

// Render computes the bitstream cfg produces.
func (d SimDevice) Render(cfg Config) *bitstream.Bitstream {
	b := bitstream.New(d.Info.Frames, d.Info.FrameBits)
	for _, a := range d.Defaults {
		b.Set(a, true)
	}
	for _, r := range d.Rules {
		if !r.Matches(cfg) {
			continue
		}
		for _, a := range r.Set {
			b.Set(a, true)
		}
		for _, a := range r.Clear {
			b.Set(a, false)
		}
	}
	return b
}

// RunHook can replace or alter the simulated result. It receives the
// rendered bitstream and may modify it in place or return an error.
type RunHook func(cfg Config, b *bitstream.Bitstream) error

// SimBackend is an in-memory backend for tests and dry runs. It is safe
// for concurrent use.
type SimBackend struct {
	Device SimDevice
	OnRun  RunHook

	mu      sync.Mutex
	runs    int
	lastCfg Config
}

// NewSimBackend validates dev and wraps it in a backend.
func NewSimBackend(dev SimDevice) (*SimBackend, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	return &SimBackend{Device: dev}, nil
}

func (s *SimBackend) Info() Info {
	return s.Device.Info
}

// Run renders cfg. Cancellation is checked before rendering.
func (s *SimBackend) Run(ctx context.Context, cfg Config) (*bitstream.Bitstream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	s.mu.Lock()
	s.runs++
	s.lastCfg = cfg.Clone()
	hook := s.OnRun
	s.mu.Unlock()

	b := s.Device.Render(cfg)
	if hook != nil {
		if err := hook(cfg, b); err != nil {
			return nil, fmt.Errorf("backend: %s: %w", s.Device.Info.Name, err)
		}
	}
	return b, nil
}

// Runs reports how many times Run has been called.
func (s *SimBackend) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// LastConfig returns a copy of the most recent configuration.
func (s *SimBackend) LastConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCfg.Clone()
}
