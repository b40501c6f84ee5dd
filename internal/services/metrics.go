package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/pkg/models"
)

const (
	PortVectorSearch = "vector_search"
	PortAffinity     = "affinity"
	PortCatalog      = "catalog"
	PortHistory      = "history"
)

// Metrics records ranking outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	requests   *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	portErrors *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	resultSize *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer, logger *logrus.Logger) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranking_requests_total",
			Help: "Ranking requests by requested and effective mode",
		}, []string{"mode", "effective_mode"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranking_fallbacks_total",
			Help: "Fallback paths taken by the ranking engine",
		}, []string{"reason"}),
		portErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ranking_port_errors_total",
			Help: "Port calls that failed or timed out and were treated as empty",
		}, []string{"port"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ranking_duration_seconds",
			Help:    "Ranking latency by requested mode",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"mode"}),
		resultSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ranking_result_items",
			Help:    "Number of items returned per ranking request",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}, []string{"mode"}),
	}

	if reg == nil {
		return m
	}

	m.requests = register(reg, m.requests, logger)
	m.fallbacks = register(reg, m.fallbacks, logger)
	m.portErrors = register(reg, m.portErrors, logger)
	m.duration = register(reg, m.duration, logger)
	m.resultSize = register(reg, m.resultSize, logger)

	return m
}

// register adds c to reg, reusing the collector already registered under the
// same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, logger *logrus.Logger) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("Failed to register ranking metric")
	}
	return c
}

func (m *Metrics) ObserveRequest(result *models.RankedResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(result.Mode), string(result.EffectiveMode)).Inc()
	m.duration.WithLabelValues(string(result.Mode)).Observe(elapsed.Seconds())
	m.resultSize.WithLabelValues(string(result.Mode)).Observe(float64(len(result.Items)))
}

func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) PortError(port string) {
	if m == nil {
		return
	}
	m.portErrors.WithLabelValues(port).Inc()
}
