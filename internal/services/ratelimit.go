package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/pkg/models"
)

// RateLimitService applies a sliding window request budget per client,
// shared across replicas through Redis.
type RateLimitService struct {
	limit       int
	window      time.Duration
	logger      *logrus.Logger
	redisClient *redis.Client
}

func NewRateLimitService(cfg config.RateLimitConfig, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimitService{
		limit:       cfg.Requests,
		window:      cfg.Window,
		logger:      logger,
		redisClient: redisClient,
	}
}

// CheckLimit records a request for client and reports the remaining budget.
func (s *RateLimitService) CheckLimit(ctx context.Context, client string) (*models.RateLimitInfo, error) {
	key := fmt.Sprintf("rate_limit:client:%s", client)

	now := time.Now()
	windowStart := now.Add(-s.window)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, s.window)

	info := &models.RateLimitInfo{
		Limit:     s.limit,
		Remaining: s.limit,
		ResetTime: now.Add(s.window).Unix(),
	}

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open while Redis is unavailable.
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		return info, nil
	}

	info.Remaining = s.limit - int(countCmd.Val())
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return info, nil
}

// IsAllowed records a request for client and reports whether it fits the
// budget.
func (s *RateLimitService) IsAllowed(ctx context.Context, client string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(ctx, client)
	if err != nil {
		return false, nil, err
	}

	return info.Remaining > 0, info, nil
}
