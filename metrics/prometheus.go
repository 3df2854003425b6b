// Package metrics exports record save metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acksell/dirrecord/record"
)

const namespace = "dirrecord"

// Recorder implements record.MetricsRecorder with Prometheus collectors.
type Recorder struct {
	saves        *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	metaFailures *prometheus.CounterVec
}

var _ record.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the collectors on reg, or on the default registerer when reg is nil.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Entity saves by type, operation and outcome.",
		}, []string{"type", "op", "outcome"}),
		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Wall time of entity saves, including listeners and the re-read.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "op"}),
		metaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_write_failures_total",
			Help:      "Metadata keys whose write or delete failed.",
		}, []string{"type", "key"}),
	}
	for _, c := range []prometheus.Collector{r.saves, r.saveDuration, r.metaFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveSave(typeName, op, outcome string, d time.Duration) {
	r.saves.WithLabelValues(typeName, op, outcome).Inc()
	r.saveDuration.WithLabelValues(typeName, op).Observe(d.Seconds())
}

func (r *Recorder) MetadataFailure(typeName, key string) {
	r.metaFailures.WithLabelValues(typeName, key).Inc()
}
