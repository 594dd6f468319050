// Package collector resolves measured diffs into tile database items.
//
// A Collector owns the diffs of one collection pass. Each diff is consumed
// at most once; translators from package xlat turn the retrieved diffs into
// items, and Finish checks that every measured diff was explained.
package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/tiledb"
)

var (
	// ErrMissingDiff is returned for a feature nobody measured.
	ErrMissingDiff = errors.New("collector: missing diff")

	// ErrConsumed is returned when a diff is retrieved a second time.
	ErrConsumed = errors.New("collector: diff already consumed")

	// ErrUnused is returned by Finish when measured diffs were never
	// retrieved.
	ErrUnused = errors.New("collector: unused diffs")
)

// Config controls a collection pass.
type Config struct {
	Device      string       // Device name recorded in the database and in errors
	AllowUnused bool         // Log unconsumed diffs instead of failing Finish
	Logger      *slog.Logger // Defaults to slog.Default()
}

// DefaultConfig returns a Config for the named device.
func DefaultConfig(device string) *Config {
	return &Config{Device: device}
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("collector: device name required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Source supplies measured diffs. *session.State implements it.
type Source interface {
	IDs() []fuzzer.FeatureID
	Diffs(id fuzzer.FeatureID) []bitdiff.Diff
}

// AttrError ties a resolution failure to the attribute and device it
// happened on.
type AttrError struct {
	Device string
	Key    tiledb.Key
	Err    error
}

func (e *AttrError) Error() string {
	return fmt.Sprintf("collector: %s: %s: %v", e.Device, e.Key, e.Err)
}

func (e *AttrError) Unwrap() error { return e.Err }

// Collector is the consumer side of a collection pass. It is not safe for
// concurrent use.
type Collector struct {
	cfg      Config
	db       *tiledb.Database
	diffs    map[fuzzer.FeatureID]bitdiff.Diff
	consumed map[fuzzer.FeatureID]bool
	logger   *slog.Logger
}

// New loads every diff of src. A feature measured several times must have
// been observed identically each time.
func New(src Source, cfg *Config) (*Collector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("collector: config required")
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	col := &Collector{
		cfg:      c,
		db:       tiledb.New(c.Device),
		diffs:    make(map[fuzzer.FeatureID]bitdiff.Diff),
		consumed: make(map[fuzzer.FeatureID]bool),
		logger:   c.Logger.With("device", c.Device),
	}
	for _, id := range src.IDs() {
		ds := src.Diffs(id)
		if len(ds) == 0 {
			continue
		}
		for _, d := range ds[1:] {
			if err := bitdiff.AssertEq(ds[0], d, id.String()); err != nil {
				return nil, col.attrErr(id.Tile, id.Bel, id.Attr, fmt.Errorf("repeated measurements disagree: %w", err))
			}
		}
		col.diffs[id] = ds[0].Clone()
	}
	return col, nil
}

func (c *Collector) attrErr(tile, bel, attr string, err error) error {
	return &AttrError{Device: c.cfg.Device, Key: tiledb.Key{Tile: tile, Bel: bel, Attr: attr}, Err: err}
}

func featureID(tile, bel, attr, val string) fuzzer.FeatureID {
	return fuzzer.FeatureID{Tile: tile, Bel: bel, Attr: attr, Val: val}
}

// Has reports whether a diff was measured for the feature, consumed or not.
func (c *Collector) Has(tile, bel, attr, val string) bool {
	_, ok := c.diffs[featureID(tile, bel, attr, val)]
	return ok
}

// PeekDiff returns a copy of a diff without consuming it.
func (c *Collector) PeekDiff(tile, bel, attr, val string) (bitdiff.Diff, error) {
	id := featureID(tile, bel, attr, val)
	d, ok := c.diffs[id]
	if !ok {
		return nil, c.attrErr(tile, bel, attr, fmt.Errorf("%w: %s", ErrMissingDiff, id))
	}
	return d.Clone(), nil
}

// GetDiff consumes and returns the diff measured for the feature.
func (c *Collector) GetDiff(tile, bel, attr, val string) (bitdiff.Diff, error) {
	id := featureID(tile, bel, attr, val)
	d, ok := c.diffs[id]
	if !ok {
		return nil, c.attrErr(tile, bel, attr, fmt.Errorf("%w: %s", ErrMissingDiff, id))
	}
	if c.consumed[id] {
		return nil, c.attrErr(tile, bel, attr, fmt.Errorf("%w: %s", ErrConsumed, id))
	}
	c.consumed[id] = true
	return d.Clone(), nil
}

// GetDiffs consumes the family val#0, val#1, ... up to the first index
// that was not measured.
func (c *Collector) GetDiffs(tile, bel, attr, val string) ([]bitdiff.Diff, error) {
	var out []bitdiff.Diff
	for i := 0; c.Has(tile, bel, attr, fuzzer.IndexedVal(val, i)); i++ {
		d, err := c.GetDiff(tile, bel, attr, fuzzer.IndexedVal(val, i))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, c.attrErr(tile, bel, attr, fmt.Errorf("%w: family %s", ErrMissingDiff, featureID(tile, bel, attr, fuzzer.IndexedVal(val, 0))))
	}
	return out, nil
}

// Insert records the resolved item of an attribute. Each attribute is
// resolved once.
func (c *Collector) Insert(tile, bel, attr string, item tiledb.Item) error {
	if err := c.db.Insert(tiledb.Key{Tile: tile, Bel: bel, Attr: attr}, item); err != nil {
		return c.attrErr(tile, bel, attr, err)
	}
	c.logger.Debug("attribute resolved", "tile", tile, "bel", bel, "attr", attr, "kind", item.Kind.String(), "bits", len(item.Bits))
	return nil
}

// Item returns a previously resolved item, for peeling a dependency's
// contribution out of a diff.
func (c *Collector) Item(tile, bel, attr string) (tiledb.Item, error) {
	item, ok := c.db.Get(tiledb.Key{Tile: tile, Bel: bel, Attr: attr})
	if !ok {
		return tiledb.Item{}, c.attrErr(tile, bel, attr, fmt.Errorf("collector: attribute not resolved yet"))
	}
	return item, nil
}

// Unused returns the features whose diffs were never consumed, sorted.
func (c *Collector) Unused() []fuzzer.FeatureID {
	var out []fuzzer.FeatureID
	for id := range c.diffs {
		if !c.consumed[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Status summarises the pass so far.
type Status struct {
	Measured int
	Consumed int
	Resolved int
}

func (s Status) String() string {
	return fmt.Sprintf("%d/%d diffs consumed, %d attributes resolved", s.Consumed, s.Measured, s.Resolved)
}

// Status reports progress of the pass.
func (c *Collector) Status() Status {
	return Status{Measured: len(c.diffs), Consumed: len(c.consumed), Resolved: c.db.Len()}
}

// Finish ends the pass and returns the database. Unconsumed diffs are an
// error unless Config.AllowUnused is set.
func (c *Collector) Finish() (*tiledb.Database, error) {
	unused := c.Unused()
	if len(unused) > 0 {
		names := make([]string, 0, len(unused))
		for i, id := range unused {
			if i == 8 {
				names = append(names, fmt.Sprintf("and %d more", len(unused)-i))
				break
			}
			names = append(names, id.String()+" "+c.diffs[id].String())
		}
		if !c.cfg.AllowUnused {
			return nil, fmt.Errorf("%w: %s: %s", ErrUnused, c.cfg.Device, strings.Join(names, ", "))
		}
		c.logger.Warn("unused diffs", "count", len(unused), "first", names[0])
	}
	c.logger.Info("collection finished", "status", c.Status().String())
	return c.db, nil
}
