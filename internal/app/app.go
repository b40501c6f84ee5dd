package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/database"
	"github.com/temcen/hybrec/internal/handlers"
	"github.com/temcen/hybrec/internal/messaging"
	"github.com/temcen/hybrec/internal/middleware"
	"github.com/temcen/hybrec/internal/services"
	"github.com/temcen/hybrec/pkg/models"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	services  *services.Services
	handlers  *handlers.Handlers
	router    *gin.Engine
	publisher *messaging.SnapshotPublisher
	listener  *messaging.SnapshotListener

	stopListener context.CancelFunc
	listenerDone sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: NewLogger(cfg.Logging),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svc, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	// Snapshot events are optional; without brokers reloads are local only.
	var publisher handlers.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		app.publisher = messaging.NewSnapshotPublisher(cfg.Kafka, app.logger)
		app.listener = messaging.NewSnapshotListener(cfg.Kafka, svc.Snapshots, app.logger)
		publisher = app.publisher
	}

	app.handlers = handlers.New(cfg, app.logger, svc, publisher)
	app.router = NewRouter(cfg, app.logger, svc, app.handlers)

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start runs the background snapshot listener, if configured.
func (a *App) Start() {
	if a.listener == nil {
		a.logger.Info("No Kafka brokers configured, snapshot events disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopListener = cancel
	a.listenerDone.Add(1)
	go func() {
		defer a.listenerDone.Done()
		if err := a.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Snapshot listener stopped")
		}
	}()
	a.logger.WithFields(logrus.Fields{
		"topic":          a.config.Kafka.Topics.Snapshots,
		"consumer_group": a.listener.GroupID(),
	}).Info("Snapshot listener started")
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	var errs []error
	if a.stopListener != nil {
		a.stopListener()
		done := make(chan struct{})
		go func() {
			a.listenerDone.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("Timed out waiting for the snapshot listener")
		}
	}
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close snapshot listener: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close snapshot publisher: %w", err))
		}
	}

	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.WithError(err).Error("Errors during shutdown")
		return err
	}
	return nil
}

func NewLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// NewRouter wires the HTTP routes. Rate limiting runs after Auth so that
// authenticated callers are budgeted per user.
func NewRouter(cfg *config.Config, logger *logrus.Logger, svc *services.Services, h *handlers.Handlers) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Security.CORS))

	router.GET("/health", h.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(svc.Auth, logger))
	if cfg.Security.RateLimit.Enabled {
		api.Use(middleware.RateLimit(svc.RateLimit, logger))
	}
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/guest", h.Recommendation.Guest)
			recommendations.GET("/search", h.Recommendation.Search)
			recommendations.POST("/rank", h.Recommendation.Rank)
			recommendations.GET("/personalized", middleware.RequireUser(), h.Recommendation.Personalized)
			recommendations.GET("/recent", middleware.RequireUser(), h.Recommendation.Recent)
		}

		admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
		{
			admin.GET("/snapshot", h.Admin.GetSnapshot)
			admin.POST("/snapshot/reload", h.Admin.ReloadSnapshot)
			admin.GET("/config", h.Admin.GetRankingConfig)
		}
	}

	return router
}
