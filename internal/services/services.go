package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/database"
	"github.com/temcen/hybrec/internal/ml"
	"github.com/temcen/hybrec/internal/storage"
)

type Services struct {
	Auth      *AuthService
	Health    *HealthService
	RateLimit *RateLimitService
	Metrics   *Metrics
	Snapshots *ml.SnapshotRegistry
	Ranker    *RankingEngine
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	embedder, err := ml.NewTextEmbedder(ml.TextEmbedderConfig{
		URL:        cfg.Models.Embedding.URL,
		Model:      cfg.Models.Embedding.Model,
		Dimensions: cfg.Models.Embedding.Dimensions,
		Timeout:    cfg.Models.Embedding.Timeout,
		CacheTTL:   cfg.Models.Embedding.CacheTTL,
		LRUSize:    cfg.Models.Embedding.LRUSize,
	}, db.Redis.Cold, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create text embedder: %w", err)
	}

	history, err := newHistory(cfg, logger, db)
	if err != nil {
		return nil, err
	}

	vectors := storage.NewVectorIndex(db.PG, embedder, logger)
	catalog := storage.NewCachedCatalog(
		storage.NewMovieCatalog(db.PG, logger),
		db.Redis.Warm, cfg.Recommendation.CatalogCacheTTL, logger,
	)

	registry := ml.NewSnapshotRegistry(logger, reg)
	if cfg.Models.SnapshotPath != "" {
		// Serving starts without a snapshot if the initial load fails;
		// personalized requests degrade until a reload succeeds.
		if _, err := registry.Reload(context.Background(), cfg.Models.SnapshotPath); err != nil {
			logger.WithError(err).Warn("Starting without a model snapshot")
		}
	}
	snapshots := SnapshotProviderFunc(func() AffinityPredictor {
		if s := registry.Current(); s != nil {
			return s
		}
		return nil
	})

	metrics := NewMetrics(reg, logger)

	return &Services{
		Auth:      NewAuthService(cfg, logger),
		Health:    NewHealthService(logger, db, snapshots, reg),
		RateLimit: NewRateLimitService(cfg.Security.RateLimit, logger, db.Redis.Warm),
		Metrics:   metrics,
		Snapshots: registry,
		Ranker:    NewRankingEngine(vectors, catalog, history, snapshots, cfg.Recommendation, metrics, logger),
	}, nil
}

func newHistory(cfg *config.Config, logger *logrus.Logger, db *database.Database) (History, error) {
	switch cfg.History.Backend {
	case "", "postgres":
		return storage.NewFeedbackHistory(db.PG, logger), nil
	case "neo4j":
		if db.Neo4j == nil {
			return nil, fmt.Errorf("history backend neo4j requires neo4j.enabled")
		}
		return storage.NewGraphHistory(db.Neo4j, logger), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}
}
