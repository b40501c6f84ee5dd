package ml

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"
)

// ErrEmbeddingUnavailable is returned while the circuit to the embedding
// service is open.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// errCallerAborted marks requests cut short by the caller's context. They
// say nothing about the embedding service and do not count against the
// breaker, whether the caller cancelled or its deadline passed.
var errCallerAborted = errors.New("embedding request aborted by caller")

// TextEmbedder turns text into unit-length vectors through an HTTP embedding
// service, with an in-process LRU in front of a shared Redis cache.
type TextEmbedder struct {
	baseURL     string
	model       string
	dimensions  int
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[[]float32]
	local       *lru.Cache[string, []float32]
	redisClient *redis.Client
	cachePrefix string
	cacheTTL    time.Duration
	logger      *logrus.Logger
}

// TextEmbedderConfig contains configuration for the text embedder
type TextEmbedderConfig struct {
	URL         string
	Model       string
	Dimensions  int
	Timeout     time.Duration
	CachePrefix string
	CacheTTL    time.Duration
	LRUSize     int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewTextEmbedder creates a text embedder. redisClient may be nil.
func NewTextEmbedder(cfg TextEmbedderConfig, redisClient *redis.Client, logger *logrus.Logger) (*TextEmbedder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("embedding service url cannot be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "embed:text"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.LRUSize <= 0 {
		cfg.LRUSize = 1024
	}

	local, err := lru.New[string, []float32](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding lru: %w", err)
	}

	e := &TextEmbedder{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		client:      &http.Client{Timeout: cfg.Timeout},
		local:       local,
		redisClient: redisClient,
		cachePrefix: cfg.CachePrefix,
		cacheTTL:    cfg.CacheTTL,
		logger:      logger,
	}

	e.breaker = gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        "embedding-service",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerAborted)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Embedding circuit breaker state changed")
		},
	})

	return e, nil
}

// NormalizeText applies NFC normalization and collapses whitespace so that
// equivalent queries share a cache entry.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Embed returns the L2-normalized embedding of text.
func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = NormalizeText(text)
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	key := e.cacheKey(text)
	if vec, ok := e.local.Get(key); ok {
		return vec, nil
	}
	if vec, ok := e.getCached(ctx, key); ok {
		e.local.Add(key, vec)
		return vec, nil
	}

	vec, err := e.breaker.Execute(func() ([]float32, error) {
		vec, err := e.request(ctx, text)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerAborted, ctx.Err())
		}
		return vec, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}

	vec = l2Normalize(vec)
	e.local.Add(key, vec)
	e.cache(ctx, key, vec)

	return vec, nil
}

func (e *TextEmbedder) request(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status: %d", resp.StatusCode)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(decoded.Embeddings))
	}

	vec := decoded.Embeddings[0]
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), e.dimensions)
	}

	e.logger.WithFields(logrus.Fields{
		"model":      e.model,
		"dimensions": len(vec),
		"latency":    time.Since(start),
	}).Debug("Generated text embedding")

	return vec, nil
}

// l2Normalize performs L2 normalization on the embedding vector
func l2Normalize(embedding []float32) []float32 {
	vec := make([]float64, len(embedding))
	for i, v := range embedding {
		vec[i] = float64(v)
	}

	n := floats.Norm(vec, 2)
	if n == 0 {
		return embedding
	}

	floats.Scale(1/n, vec)
	normalized := make([]float32, len(embedding))
	for i, v := range vec {
		normalized[i] = float32(v)
	}
	return normalized
}

func (e *TextEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%s", e.cachePrefix, e.model, hex.EncodeToString(sum[:16]))
}

func (e *TextEmbedder) getCached(ctx context.Context, key string) ([]float32, bool) {
	if e.redisClient == nil {
		return nil, false
	}

	result, err := e.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.logger.WithError(err).WithField("key", key).Warn("Failed to read cached embedding")
		}
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(result, &embedding); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("Failed to deserialize cached embedding")
		return nil, false
	}

	return embedding, true
}

func (e *TextEmbedder) cache(ctx context.Context, key string, embedding []float32) {
	if e.redisClient == nil {
		return
	}

	data, err := json.Marshal(embedding)
	if err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("Failed to serialize embedding for caching")
		return
	}

	if err := e.redisClient.Set(ctx, key, data, e.cacheTTL).Err(); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("Failed to cache embedding")
	}
}
