package services

import (
	"context"

	"github.com/temcen/hybrec/pkg/models"
)

// VectorSearcher returns the nearest catalog items for a text or vector
// query, best first, with similarity in [0,1].
type VectorSearcher interface {
	Search(ctx context.Context, query models.VectorQuery, k int) ([]models.VectorHit, error)
}

// AffinityPredictor scores items for a user against one trained model
// snapshot. Unknown users or items are left out of the returned map.
type AffinityPredictor interface {
	Version() string
	KnowsUser(userID int64) bool
	ItemIDs() []int64
	Predict(ctx context.Context, userID int64, itemIDs []int64) (map[int64]float64, error)
}

// SnapshotProvider hands out the current model snapshot, or nil when none is loaded.
type SnapshotProvider interface {
	Current() AffinityPredictor
}

// SnapshotProviderFunc adapts a function to SnapshotProvider.
type SnapshotProviderFunc func() AffinityPredictor

func (f SnapshotProviderFunc) Current() AffinityPredictor {
	return f()
}

// Catalog resolves item ids to display records. Lookups of absent items
// return nil records, not errors.
type Catalog interface {
	Get(ctx context.Context, id int64) (*models.Movie, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]*models.Movie, error)
	FindByTitle(ctx context.Context, title string) (*models.Movie, error)
	ByGenres(ctx context.Context, genres []string, limit int) ([]models.Movie, error)
	MostPopular(ctx context.Context, limit int, excluding []int64) ([]models.Movie, error)
}

// History exposes what a user has already consumed.
type History interface {
	ConsumedItems(ctx context.Context, userID int64) ([]int64, error)
	RecentConsumed(ctx context.Context, userID int64, n int) ([]int64, error)
}

// Ranker is the entry point used by the HTTP layer.
type Ranker interface {
	Rank(ctx context.Context, req *models.RankingRequest) (*models.RankedResult, error)
}
