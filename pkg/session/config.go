package session

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Config controls scheduling of a session.
type Config struct {
	// Batching
	MaxBatch int  // Maximum experiments per batch; 1 disables batching (default: 16)
	Verify   bool // Re-run every batched experiment alone and compare (default: false)

	// SpotCheck members of every batch are re-run alone and compared when
	// Verify is off, rotating with the batch index. Bits that appear only
	// while another member's base keys are absent are invisible to
	// attribution. 0 disables it (default: 1).
	SpotCheck int

	// Execution
	Workers int // Batches run concurrently (default: 1)

	// StrictOutside fails a batch when bits change outside every measured
	// rectangle. By default such changes are logged and ignored.
	StrictOutside bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the session metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() *Config {
	return &Config{
		MaxBatch:  16,
		Workers:   1,
		SpotCheck: 1,
	}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.MaxBatch < 1 {
		return fmt.Errorf("session: max batch must be at least 1, got %d", c.MaxBatch)
	}
	if c.SpotCheck < 0 {
		return fmt.Errorf("session: spot check must not be negative, got %d", c.SpotCheck)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
