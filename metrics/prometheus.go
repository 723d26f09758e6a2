package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports operation durations as a histogram labelled by scope and op.
type Prometheus struct {
	durations *prometheus.HistogramVec
}

// NewPrometheus creates the histogram and registers it with reg. A nil reg
// registers with prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tablecache",
		Name:      "operation_duration_seconds",
		Help:      "Duration of tablecache operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"scope", "op"})

	if err := reg.Register(durations); err != nil {
		return nil, err
	}

	return &Prometheus{durations: durations}, nil
}

// RecordDuration implements Collector.
func (p *Prometheus) RecordDuration(scope, op string, elapsed time.Duration) {
	p.durations.WithLabelValues(scope, op).Observe(elapsed.Seconds())
}
