// Package prometheus holds the Prometheus-backed metric implementations.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uberallfs/uberallfs/pkg/metrics"
	"github.com/uberallfs/uberallfs/pkg/objectstore"
)

// storeMetrics is the Prometheus implementation of objectstore.StoreMetrics.
type storeMetrics struct {
	ops           *prometheus.CounterVec
	gcReachable   prometheus.Gauge
	gcUnreachable prometheus.Gauge
	gcDeleted     prometheus.Gauge
	gcExpired     prometheus.Gauge
}

// NewStoreMetrics creates a Prometheus-backed store metrics sink.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the
// store treats a nil sink as "collect nothing".
func NewStoreMetrics() objectstore.StoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.Registry()

	return &storeMetrics{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "uberallfs_store_operations_total",
				Help: "Total number of completed objectstore primitives by operation",
			},
			[]string{"op"},
		),
		gcReachable: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "uberallfs_gc_reachable_objects",
			Help: "Objects reachable from the roots in the last GC pass",
		}),
		gcUnreachable: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "uberallfs_gc_unreachable_objects",
			Help: "Objects found unreachable in the last GC pass",
		}),
		gcDeleted: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "uberallfs_gc_deleted_objects",
			Help: "Objects deleted immediately in the last GC pass",
		}),
		gcExpired: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "uberallfs_gc_expired_objects",
			Help: "Objects moved to the tombstone area in the last GC pass",
		}),
	}
}

// IncOp implements objectstore.StoreMetrics.
func (m *storeMetrics) IncOp(op string) {
	m.ops.WithLabelValues(op).Inc()
}

// GCSweep implements objectstore.StoreMetrics.
func (m *storeMetrics) GCSweep(reachable, unreachable, deleted, expired int) {
	m.gcReachable.Set(float64(reachable))
	m.gcUnreachable.Set(float64(unreachable))
	m.gcDeleted.Set(float64(deleted))
	m.gcExpired.Set(float64(expired))
}
