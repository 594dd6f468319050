package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/backend"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitdiff"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/bitstream"
	"github.com/OpenTraceLab/OpenTraceFuzz/pkg/fuzzer"
)

var (
	// ErrAttribution reports a changed bit that cannot be pinned on exactly
	// the experiment whose rectangle holds it.
	ErrAttribution = errors.New("session: change not attributable")

	// ErrNotTransparent reports a batched diff that differs from the same
	// experiment run alone.
	ErrNotTransparent = errors.New("session: batched diff differs from solo run")

	// ErrOutside reports changes outside every measured rectangle when
	// Config.StrictOutside is set.
	ErrOutside = errors.New("session: change outside measured rectangles")
)

// Progress reports the current state of a session run.
type Progress struct {
	Phase string // "init", "running", "finalizing"
	Batch int    // Batch just completed
	Index int    // Batches completed so far
	Total int    // Total number of batches
	Runs  int    // Backend invocations so far
}

// Session schedules experiments against one backend.
type Session struct {
	id      string
	backend backend.Backend
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	fuzzers []*fuzzer.Fuzzer
	runs    atomic.Int64
}

// New creates a session. A nil cfg uses DefaultConfig.
func New(b backend.Backend, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	metrics, err := NewMetrics(c.Registerer)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		backend: b,
		cfg:     c,
		metrics: metrics,
		logger:  c.Logger.With("session", id, "device", b.Info().Name),
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Metrics returns the session's collectors.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Runs reports how many backend invocations the session has made.
func (s *Session) Runs() int { return int(s.runs.Load()) }

// Add commits experiments to the session.
func (s *Session) Add(fs ...*fuzzer.Fuzzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fs {
		if f != nil {
			s.fuzzers = append(s.fuzzers, f)
		}
	}
}

// Len returns the number of committed experiments.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fuzzers)
}

// Plan returns the batches Run would execute.
func (s *Session) Plan() []Batch {
	s.mu.Lock()
	fs := append([]*fuzzer.Fuzzer(nil), s.fuzzers...)
	s.mu.Unlock()
	return Plan(fs, s.cfg.MaxBatch)
}

// Run executes every committed experiment once and returns the measured
// diffs. The first failing batch aborts the run.
//
// Parameters:
//   - ctx: Context for cancellation; checked before every backend call
//   - progress: Optional channel for progress updates (can be nil)
func (s *Session) Run(ctx context.Context, progress chan<- Progress) (*State, error) {
	batches := s.Plan()
	if len(batches) == 0 {
		return nil, fmt.Errorf("session: no experiments")
	}
	s.logger.Info("session starting", "experiments", s.Len(), "batches", len(batches), "workers", s.cfg.Workers)
	send(ctx, progress, Progress{Phase: "init", Total: len(batches)})

	state := NewState()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	var done atomic.Int64
	for _, b := range batches {
		g.Go(func() error {
			diffs, err := s.runBatch(gctx, b)
			if err != nil {
				return err
			}
			for i, m := range b.Members {
				state.Add(m.ID(), diffs[i])
			}
			n := done.Add(1)
			send(gctx, progress, Progress{
				Phase: "running",
				Batch: b.Index,
				Index: int(n),
				Total: len(batches),
				Runs:  s.Runs(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	send(ctx, progress, Progress{Phase: "finalizing", Index: len(batches), Total: len(batches), Runs: s.Runs()})
	s.logger.Info("session finished", "features", state.Len(), "runs", s.Runs())
	return state, nil
}

func send(ctx context.Context, ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}

func (s *Session) run(ctx context.Context, cfg backend.Config) (*bitstream.Bitstream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	start := time.Now()
	b, err := s.backend.Run(ctx, cfg)
	s.metrics.BackendRunDur.Observe(time.Since(start).Seconds())
	s.metrics.BackendRuns.Inc()
	s.runs.Add(1)
	if err != nil {
		s.metrics.Failures.WithLabelValues("backend").Inc()
		return nil, fmt.Errorf("session: backend run: %w", err)
	}
	if err := backend.CheckGeometry(s.backend.Info(), b); err != nil {
		s.metrics.Failures.WithLabelValues("backend").Inc()
		return nil, fmt.Errorf("session: %w", err)
	}
	return b, nil
}

// runBatch measures every member of b. Member j gets code j+1 and is
// perturbed in coded run r iff bit r of its code is set, so a batch of n
// needs one baseline and bits.Len(n) further runs. A changed bit is
// attributed to the member whose rectangle holds it, and the set of runs it
// changed in must equal that member's code.
func (s *Session) runBatch(ctx context.Context, b Batch) ([]bitdiff.Diff, error) {
	members := b.Members
	n := len(members)
	k := bits.Len(uint(n))
	logger := s.logger.With("batch", b.Index)

	base := backend.Config{}
	for _, m := range members {
		m.ApplyBase(base)
	}
	baseBS, err := s.run(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("session: batch %d baseline: %w", b.Index, err)
	}

	runs := make([]*bitstream.Bitstream, k)
	codes := make(map[bitstream.Addr]uint)
	for r := 0; r < k; r++ {
		cfg := base.Clone()
		for j, m := range members {
			if (j+1)&(1<<r) != 0 {
				m.ApplyPerturbed(cfg)
			}
		}
		if runs[r], err = s.run(ctx, cfg); err != nil {
			return nil, fmt.Errorf("session: batch %d run %d: %w", b.Index, r, err)
		}
		changed, err := baseBS.Changed(runs[r])
		if err != nil {
			return nil, err
		}
		for _, a := range changed {
			codes[a] |= 1 << r
		}
	}

	addrs := make([]bitstream.Addr, 0, len(codes))
	for a := range codes {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Frame != addrs[j].Frame {
			return addrs[i].Frame < addrs[j].Frame
		}
		return addrs[i].Bit < addrs[j].Bit
	})

	rects := make([][]bitstream.Rect, n)
	diffs := make([]bitdiff.Diff, n)
	for j, m := range members {
		rects[j] = m.Rects()
		diffs[j] = bitdiff.New()
	}
	var outside []bitstream.Addr
	total := 0
	for _, a := range addrs {
		code := codes[a]
		owner := -1
		var pos bitdiff.BitPos
		for j := range members {
			if p, ok := bitstream.Locate(rects[j], a); ok {
				owner, pos = j, p
				break
			}
		}
		if owner < 0 {
			outside = append(outside, a)
			continue
		}
		if code != uint(owner+1) {
			s.metrics.Failures.WithLabelValues("attribution").Inc()
			return nil, attributionError(b, a, code, owner)
		}
		r := bits.TrailingZeros(code)
		diffs[owner][pos] = rects[owner][pos.Tile].Observe(runs[r], a)
		total++
	}

	if len(outside) > 0 {
		s.metrics.OutsideBits.Add(float64(len(outside)))
		if s.cfg.StrictOutside {
			s.metrics.Failures.WithLabelValues("outside").Inc()
			return nil, fmt.Errorf("%w: batch %d: %d bits, first %s", ErrOutside, b.Index, len(outside), outside[0])
		}
		logger.Debug("changes outside measured rectangles", "bits", len(outside), "first", outside[0].String())
	}

	for _, j := range s.checked(b) {
		m := members[j]
		solo, err := s.solo(ctx, m)
		if err != nil {
			return nil, err
		}
		if err := bitdiff.AssertEq(solo, diffs[j], m.ID().String()); err != nil {
			s.metrics.Failures.WithLabelValues("transparency").Inc()
			return nil, fmt.Errorf("%w: batch %d: %w", ErrNotTransparent, b.Index, err)
		}
	}

	s.metrics.Batches.Inc()
	s.metrics.BatchSize.Observe(float64(n))
	s.metrics.DiffBits.Add(float64(total))
	logger.Debug("batch done", "members", n, "runs", k+1, "bits", total)
	return diffs, nil
}

// checked returns the members of b to re-run alone: all of them with
// Verify, otherwise SpotCheck of them starting at the batch index.
func (s *Session) checked(b Batch) []int {
	n := len(b.Members)
	if n < 2 {
		return nil
	}
	count := s.cfg.SpotCheck
	if s.cfg.Verify || count > n {
		count = n
	}
	out := make([]int, count)
	for i := range out {
		out[i] = (b.Index + i) % n
	}
	return out
}

// solo measures one experiment without batching.
func (s *Session) solo(ctx context.Context, f *fuzzer.Fuzzer) (bitdiff.Diff, error) {
	base, err := s.run(ctx, f.BaseConfig())
	if err != nil {
		return nil, fmt.Errorf("session: %s solo baseline: %w", f.ID(), err)
	}
	run, err := s.run(ctx, f.PerturbedConfig())
	if err != nil {
		return nil, fmt.Errorf("session: %s solo run: %w", f.ID(), err)
	}
	d, _, err := bitstream.ExtractDiff(base, run, f.Rects())
	return d, err
}

func attributionError(b Batch, a bitstream.Addr, code uint, owner int) error {
	var culprits []string
	for j, m := range b.Members {
		if code&uint(j+1) == uint(j+1) && j != owner {
			culprits = append(culprits, m.ID().String())
		}
	}
	err := fmt.Errorf("%w: batch %d: %s in rectangle of %s changed under code %b, want %b",
		ErrAttribution, b.Index, a, b.Members[owner].ID(), code, owner+1)
	if len(culprits) > 0 {
		err = fmt.Errorf("%w (possibly %s)", err, strings.Join(culprits, ", "))
	}
	return err
}
