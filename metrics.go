package gitbind

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records index operation counts and latencies.
// A nil *Metrics records nothing.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	entries  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Registering
// twice with the same registry reuses the existing collectors, so several
// indexes can share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gitbind",
		Subsystem: "index",
		Name:      "operations_total",
		Help:      "Index operations by operation and result.",
	}, []string{"operation", "result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gitbind",
		Subsystem: "index",
		Name:      "operation_duration_seconds",
		Help:      "Duration of disk-touching index operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"operation"})

	entries := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gitbind",
		Subsystem: "index",
		Name:      "entries",
		Help:      "Number of entries read or written.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"operation"})

	m := &Metrics{}
	var err error
	if m.ops, err = register(reg, ops); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if m.entries, err = register(reg, entries); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// observe records one operation. start may be zero for operations that are
// not timed.
func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	if !start.IsZero() {
		m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) observeEntries(op string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(op).Observe(float64(n))
}
