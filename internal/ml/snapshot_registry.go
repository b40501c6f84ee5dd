package ml

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// SnapshotRegistry publishes the current model snapshot. Readers never
// block; a reload builds the new snapshot completely before swapping it in.
type SnapshotRegistry struct {
	current atomic.Pointer[ModelSnapshot]
	reload  sync.Mutex
	loader  func(dir string) (*ModelSnapshot, error)
	logger  *logrus.Logger

	reloads     *prometheus.CounterVec
	loadedAt    prometheus.Gauge
	loadSeconds prometheus.Histogram
}

func NewSnapshotRegistry(logger *logrus.Logger, reg prometheus.Registerer) *SnapshotRegistry {
	r := &SnapshotRegistry{
		loader: LoadSnapshot,
		logger: logger,
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_snapshot_reloads_total",
			Help: "Model snapshot reload attempts by result",
		}, []string{"result"}),
		loadedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "model_snapshot_loaded_timestamp",
			Help: "Unix time the serving model snapshot was loaded",
		}),
		loadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_snapshot_load_seconds",
			Help:    "Time spent loading a model snapshot",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{r.reloads, r.loadedAt, r.loadSeconds} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					logger.WithError(err).Warn("Failed to register snapshot metric")
				}
			}
		}
	}

	return r
}

// Current returns the serving snapshot, or nil if none has been loaded.
func (r *SnapshotRegistry) Current() *ModelSnapshot {
	return r.current.Load()
}

// Publish makes snapshot the serving snapshot.
func (r *SnapshotRegistry) Publish(snapshot *ModelSnapshot) {
	previous := r.current.Swap(snapshot)
	r.loadedAt.Set(float64(time.Now().Unix()))

	fields := logrus.Fields{"version": snapshot.Version()}
	if previous != nil {
		fields["previous_version"] = previous.Version()
	}
	r.logger.WithFields(fields).Info("Model snapshot published")
}

// Reload loads the snapshot in dir and publishes it. On failure the serving
// snapshot is left in place. Concurrent reloads are serialized.
func (r *SnapshotRegistry) Reload(ctx context.Context, dir string) (*ModelSnapshot, error) {
	r.reload.Lock()
	defer r.reload.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	snapshot, err := r.loader(dir)
	r.loadSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		r.reloads.WithLabelValues("failure").Inc()
		r.logger.WithError(err).WithField("path", dir).Error("Model snapshot reload failed, keeping current snapshot")
		return nil, fmt.Errorf("failed to reload snapshot from %s: %w", dir, err)
	}

	if current := r.Current(); current != nil && current.Version() == snapshot.Version() {
		r.logger.WithField("version", snapshot.Version()).Info("Reloading snapshot with unchanged version")
	}

	r.Publish(snapshot)
	r.reloads.WithLabelValues("success").Inc()
	return snapshot, nil
}
