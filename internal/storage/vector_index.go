package storage

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/pkg/models"
)

// Embedder turns query text into a vector in the same space as the movie
// embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex runs cosine similarity search over movies.embedding with
// pgvector.
type VectorIndex struct {
	db       Querier
	embedder Embedder
	logger   *logrus.Logger
}

func NewVectorIndex(db Querier, embedder Embedder, logger *logrus.Logger) *VectorIndex {
	return &VectorIndex{db: db, embedder: embedder, logger: logger}
}

// Search returns at most k hits ordered by descending similarity. Scores are
// clamped to [0, 1]. Text queries are embedded first unless the query already
// carries a vector.
func (v *VectorIndex) Search(ctx context.Context, query models.VectorQuery, k int) ([]models.VectorHit, error) {
	if k <= 0 {
		return []models.VectorHit{}, nil
	}

	vec := query.Vector
	if len(vec) == 0 {
		text := strings.TrimSpace(query.Text)
		if text == "" {
			return []models.VectorHit{}, nil
		}
		if v.embedder == nil {
			return nil, fmt.Errorf("no embedder configured for text queries")
		}

		var err error
		vec, err = v.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
	}

	args := []interface{}{pgvector.NewVector(vec)}
	where, args, err := renderFilter(query.Filter, args)
	if err != nil {
		return nil, fmt.Errorf("invalid vector filter: %w", err)
	}
	args = append(args, k)

	sql := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS similarity
		FROM movies
		WHERE embedding IS NOT NULL AND %s
		ORDER BY embedding <=> $1, id
		LIMIT $%d`, where, len(args))

	rows, err := v.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	hits := make([]models.VectorHit, 0, k)
	for rows.Next() {
		var hit models.VectorHit
		if err := rows.Scan(&hit.ItemID, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		hit.Score = clampUnit(hit.Score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vector hits: %w", err)
	}

	v.logger.WithFields(logrus.Fields{
		"k":    k,
		"hits": len(hits),
	}).Debug("Vector search completed")

	return hits, nil
}

func clampUnit(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}
