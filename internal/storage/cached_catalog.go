package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/pkg/models"
)

// CatalogReader is the catalog surface the cache decorates.
type CatalogReader interface {
	Get(ctx context.Context, id int64) (*models.Movie, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*models.Movie, error)
	FindByTitle(ctx context.Context, title string) (*models.Movie, error)
	ByGenres(ctx context.Context, genres []string, limit int) ([]models.Movie, error)
	MostPopular(ctx context.Context, limit int, excluding []int64) ([]models.Movie, error)
}

// CachedCatalog keeps display records in the warm Redis tier. Only lookups by
// id are cached; list queries depend on exclusion sets and go straight to the
// underlying catalog. Redis failures degrade to uncached reads.
type CachedCatalog struct {
	next   CatalogReader
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedCatalog(next CatalogReader, redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedCatalog{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func movieKey(id int64) string {
	return fmt.Sprintf("movie:%d", id)
}

func (c *CachedCatalog) Get(ctx context.Context, id int64) (*models.Movie, error) {
	found, err := c.GetMany(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return found[id], nil
}

func (c *CachedCatalog) GetMany(ctx context.Context, ids []int64) (map[int64]*models.Movie, error) {
	found := make(map[int64]*models.Movie, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	missing := c.readCached(ctx, ids, found)
	if len(missing) == 0 {
		return found, nil
	}

	loaded, err := c.next.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, m := range loaded {
		found[id] = m
	}
	c.writeCached(ctx, loaded)

	return found, nil
}

func (c *CachedCatalog) FindByTitle(ctx context.Context, title string) (*models.Movie, error) {
	return c.next.FindByTitle(ctx, title)
}

func (c *CachedCatalog) ByGenres(ctx context.Context, genres []string, limit int) ([]models.Movie, error) {
	return c.next.ByGenres(ctx, genres, limit)
}

func (c *CachedCatalog) MostPopular(ctx context.Context, limit int, excluding []int64) ([]models.Movie, error) {
	return c.next.MostPopular(ctx, limit, excluding)
}

// readCached fills found from Redis and returns the ids still missing.
func (c *CachedCatalog) readCached(ctx context.Context, ids []int64, found map[int64]*models.Movie) []int64 {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = movieKey(id)
	}

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("Failed to read cached movies")
		}
		return ids
	}

	var missing []int64
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var m models.Movie
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			c.logger.WithError(err).WithField("key", keys[i]).Warn("Failed to deserialize cached movie")
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = &m
	}
	return missing
}

func (c *CachedCatalog) writeCached(ctx context.Context, movies map[int64]*models.Movie) {
	if len(movies) == 0 {
		return
	}

	pipe := c.redis.Pipeline()
	for id, m := range movies {
		data, err := json.Marshal(m)
		if err != nil {
			c.logger.WithError(err).WithField("movie_id", id).Warn("Failed to serialize movie for caching")
			continue
		}
		pipe.Set(ctx, movieKey(id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to cache movies")
	}
}
