package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/database"
)

type healthCheck func(ctx context.Context) error

type HealthService struct {
	logger *logrus.Logger

	critical    map[string]healthCheck
	nonCritical map[string]healthCheck

	// Prometheus metrics
	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService checks PostgreSQL as critical. Redis, Neo4j and the
// model snapshot only degrade the status.
func NewHealthService(logger *logrus.Logger, db *database.Database, snapshots SnapshotProvider, reg prometheus.Registerer) *HealthService {
	critical := map[string]healthCheck{}
	nonCritical := map[string]healthCheck{}

	if db != nil {
		if db.PG != nil {
			critical["postgresql"] = func(ctx context.Context) error { return db.PG.Ping(ctx) }
		}
		if db.Neo4j != nil {
			nonCritical["neo4j"] = func(ctx context.Context) error { return db.Neo4j.VerifyConnectivity(ctx) }
		}
		if db.Redis != nil && db.Redis.Warm != nil {
			nonCritical["redis_warm"] = func(ctx context.Context) error { return db.Redis.Warm.Ping(ctx).Err() }
		}
		if db.Redis != nil && db.Redis.Cold != nil {
			nonCritical["redis_cold"] = func(ctx context.Context) error { return db.Redis.Cold.Ping(ctx).Err() }
		}
	}

	if snapshots != nil {
		nonCritical["model_snapshot"] = func(ctx context.Context) error {
			if snapshots.Current() == nil {
				return fmt.Errorf("no model snapshot loaded")
			}
			return nil
		}
	}

	return newHealthService(logger, critical, nonCritical, reg)
}

func newHealthService(logger *logrus.Logger, critical, nonCritical map[string]healthCheck, reg prometheus.Registerer) *HealthService {
	hs := &HealthService{
		logger:      logger,
		critical:    critical,
		nonCritical: nonCritical,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	if reg != nil {
		hs.healthCheckStatus = register(reg, hs.healthCheckStatus, logger)
		hs.lastHealthCheck = register(reg, hs.lastHealthCheck, logger)
	}

	return hs
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check critical services
	allCriticalHealthy := true
	for name, check := range s.critical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	// Check non-critical services
	for name, check := range s.nonCritical {
		if err := s.run(ctx, check); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.UpdateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.UpdateHealthMetrics(name, true)
		}
	}

	// Overall status
	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

func (s *HealthService) run(ctx context.Context, check healthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return check(ctx)
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
