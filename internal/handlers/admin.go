package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/messaging"
	"github.com/temcen/hybrec/internal/ml"
	"github.com/temcen/hybrec/pkg/models"
)

// SnapshotStore is the part of the snapshot registry exposed to operators.
type SnapshotStore interface {
	Current() *ml.ModelSnapshot
	Reload(ctx context.Context, dir string) (*ml.ModelSnapshot, error)
}

// EventPublisher announces a reloaded snapshot to the other replicas.
type EventPublisher interface {
	Publish(ctx context.Context, version, path string) (messaging.SnapshotEvent, error)
}

// AdminHandler handles operator requests. The publisher is optional.
type AdminHandler struct {
	snapshots SnapshotStore
	publisher EventPublisher
	config    *config.Config
	logger    *logrus.Logger
}

func NewAdminHandler(snapshots SnapshotStore, publisher EventPublisher, cfg *config.Config, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		snapshots: snapshots,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

type reloadRequest struct {
	Path      string `json:"path"`
	Broadcast bool   `json:"broadcast"`
}

// RankingConfig is the effective ranking policy.
type RankingConfig struct {
	AffinityWeight      float64 `json:"affinity_weight"`
	VectorWeight        float64 `json:"vector_weight"`
	SearchKFactor       int     `json:"search_k_factor"`
	PersonalizedKFactor int     `json:"personalized_k_factor"`
	RecentSeedCount     int     `json:"recent_seed_count"`
	PortTimeoutMs       int64   `json:"port_timeout_ms"`
	HistoryBackend      string  `json:"history_backend"`
}

func (h *AdminHandler) GetSnapshot(c *gin.Context) {
	current := h.snapshots.Current()
	if current == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "SNAPSHOT_NOT_LOADED",
				"message": "No model snapshot is loaded",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.Success("Current model snapshot", current.Info()))
}

// ReloadSnapshot loads a snapshot directory, defaulting to the configured
// path, and swaps it in. With broadcast set the other replicas are notified
// through Kafka once the local reload succeeded.
func (h *AdminHandler) ReloadSnapshot(c *gin.Context) {
	var req reloadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_REQUEST_BODY",
					"message": "Invalid request body format",
				},
			})
			return
		}
	}
	if req.Path == "" {
		req.Path = h.config.Models.SnapshotPath
	}

	snapshot, err := h.snapshots.Reload(c.Request.Context(), req.Path)
	if err != nil {
		status, code := http.StatusInternalServerError, "SNAPSHOT_RELOAD_FAILED"
		if errors.Is(err, ml.ErrInvalidSnapshot) {
			status, code = http.StatusUnprocessableEntity, "INVALID_SNAPSHOT"
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	data := gin.H{"snapshot": snapshot.Info()}
	if req.Broadcast {
		if h.publisher == nil {
			h.logger.Warn("Snapshot broadcast requested but no Kafka brokers are configured")
			data["broadcast"] = false
		} else if event, err := h.publisher.Publish(c.Request.Context(), snapshot.Version(), req.Path); err != nil {
			h.logger.WithError(err).Warn("Snapshot reloaded locally but broadcast failed")
			data["broadcast"] = false
		} else {
			data["broadcast"] = true
			data["event_id"] = event.EventID
		}
	}

	h.logger.WithFields(logrus.Fields{
		"version": snapshot.Version(),
		"path":    req.Path,
	}).Info("Model snapshot reloaded by operator")

	c.JSON(http.StatusOK, models.Success("Model snapshot reloaded", data))
}

func (h *AdminHandler) GetRankingConfig(c *gin.Context) {
	rec := h.config.Recommendation
	c.JSON(http.StatusOK, models.Success("Ranking configuration", RankingConfig{
		AffinityWeight:      rec.Fusion.AffinityWeight,
		VectorWeight:        rec.Fusion.VectorWeight,
		SearchKFactor:       rec.SearchKFactor,
		PersonalizedKFactor: rec.PersonalizedKFactor,
		RecentSeedCount:     rec.RecentSeedCount,
		PortTimeoutMs:       rec.PortTimeout.Milliseconds(),
		HistoryBackend:      h.config.History.Backend,
	}))
}
