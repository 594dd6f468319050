package session

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the session's prometheus collectors.
type Metrics struct {
	Batches       prometheus.Counter
	BackendRuns   prometheus.Counter
	DiffBits      prometheus.Counter
	OutsideBits   prometheus.Counter
	Failures      *prometheus.CounterVec
	BatchSize     prometheus.Histogram
	BackendRunDur prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when it is
// not nil. Collectors already registered by an earlier session are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name: "batches_total",
			Help: "Batches completed",
		}),
		BackendRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name: "backend_runs_total",
			Help: "Backend invocations",
		}),
		DiffBits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name: "diff_bits_total",
			Help: "Bits attributed to experiments",
		}),
		OutsideBits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name: "outside_bits_total",
			Help: "Changed bits outside every measured rectangle",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name: "failures_total",
			Help: "Failed batches by reason",
		}, []string{"reason"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name:    "batch_size",
			Help:    "Experiments per batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		BackendRunDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otfuzz", Subsystem: "session",
			Name:    "backend_run_duration_seconds",
			Help:    "Backend invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.Batches, err = register(reg, m.Batches); err != nil {
		return nil, err
	}
	if m.BackendRuns, err = register(reg, m.BackendRuns); err != nil {
		return nil, err
	}
	if m.DiffBits, err = register(reg, m.DiffBits); err != nil {
		return nil, err
	}
	if m.OutsideBits, err = register(reg, m.OutsideBits); err != nil {
		return nil, err
	}
	if m.Failures, err = register(reg, m.Failures); err != nil {
		return nil, err
	}
	if m.BatchSize, err = register(reg, m.BatchSize); err != nil {
		return nil, err
	}
	if m.BackendRunDur, err = register(reg, m.BackendRunDur); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("session: register metrics: %w", err)
	}
	return c, nil
}
