package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Admin          *AdminHandler
}

// New builds the HTTP handlers. publisher may be nil when Kafka is not
// configured.
func New(cfg *config.Config, logger *logrus.Logger, svc *services.Services, publisher EventPublisher) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, svc.Health),
		Recommendation: NewRecommendationHandler(svc.Ranker, logger),
		Admin:          NewAdminHandler(svc.Snapshots, publisher, cfg, logger),
	}
}
