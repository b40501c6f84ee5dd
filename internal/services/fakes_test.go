package services

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/hybrec/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func int64Ptr(v int64) *int64 { return &v }

// memoryCatalog is an in-memory Catalog with per-method failure injection.
type memoryCatalog struct {
	mu     sync.Mutex
	movies map[int64]*models.Movie
	fail   map[string]error

	popularCalls [][]int64
	getManyCalls [][]int64
}

func newMemoryCatalog(movies ...models.Movie) *memoryCatalog {
	c := &memoryCatalog{movies: make(map[int64]*models.Movie), fail: make(map[string]error)}
	for i := range movies {
		m := movies[i]
		c.movies[m.ID] = &m
	}
	return c
}

func (c *memoryCatalog) failing(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail[method]
}

func (c *memoryCatalog) Get(ctx context.Context, id int64) (*models.Movie, error) {
	if err := c.failing("Get"); err != nil {
		return nil, err
	}
	return c.movies[id], nil
}

func (c *memoryCatalog) GetMany(ctx context.Context, ids []int64) (map[int64]*models.Movie, error) {
	c.mu.Lock()
	c.getManyCalls = append(c.getManyCalls, append([]int64(nil), ids...))
	c.mu.Unlock()

	if err := c.failing("GetMany"); err != nil {
		return nil, err
	}
	found := make(map[int64]*models.Movie)
	for _, id := range ids {
		if m, ok := c.movies[id]; ok {
			found[id] = m
		}
	}
	return found, nil
}

func (c *memoryCatalog) FindByTitle(ctx context.Context, title string) (*models.Movie, error) {
	if err := c.failing("FindByTitle"); err != nil {
		return nil, err
	}
	for _, m := range c.sorted() {
		if strings.EqualFold(m.Title, title) {
			return m, nil
		}
	}
	return nil, nil
}

func (c *memoryCatalog) ByGenres(ctx context.Context, genres []string, limit int) ([]models.Movie, error) {
	if err := c.failing("ByGenres"); err != nil {
		return nil, err
	}
	var out []models.Movie
	for _, m := range c.sorted() {
		if len(out) == limit {
			break
		}
		if sharesGenre(m.Genres, genres) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (c *memoryCatalog) MostPopular(ctx context.Context, limit int, excluding []int64) ([]models.Movie, error) {
	c.mu.Lock()
	c.popularCalls = append(c.popularCalls, append([]int64{}, excluding...))
	c.mu.Unlock()

	if err := c.failing("MostPopular"); err != nil {
		return nil, err
	}
	skip := historySet(excluding)
	var out []models.Movie
	for _, m := range c.sorted() {
		if len(out) == limit {
			break
		}
		if _, ok := skip[m.ID]; !ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

// sorted returns the movies by popularity descending, id ascending.
func (c *memoryCatalog) sorted() []*models.Movie {
	out := make([]*models.Movie, 0, len(c.movies))
	for _, m := range c.movies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Popularity != out[j].Popularity {
			return out[i].Popularity > out[j].Popularity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sharesGenre(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// scriptedVectors answers vector queries from a table keyed by query text.
type scriptedVectors struct {
	mu      sync.Mutex
	hits    map[string][]models.VectorHit
	err     error
	block   bool
	queries []models.VectorQuery
	ks      []int
}

func (v *scriptedVectors) Search(ctx context.Context, query models.VectorQuery, k int) ([]models.VectorHit, error) {
	v.mu.Lock()
	v.queries = append(v.queries, query)
	v.ks = append(v.ks, k)
	hits := v.hits[query.Text]
	err := v.err
	block := v.block
	v.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return append([]models.VectorHit(nil), hits...), nil
}

// staticSnapshot is an AffinityPredictor over a fixed score table.
type staticSnapshot struct {
	version string
	scores  map[int64]map[int64]float64
	items   []int64
	err     error

	mu      sync.Mutex
	batches [][]int64
}

func (s *staticSnapshot) Version() string { return s.version }

func (s *staticSnapshot) KnowsUser(userID int64) bool {
	_, ok := s.scores[userID]
	return ok
}

func (s *staticSnapshot) ItemIDs() []int64 {
	return append([]int64(nil), s.items...)
}

func (s *staticSnapshot) Predict(ctx context.Context, userID int64, itemIDs []int64) (map[int64]float64, error) {
	s.mu.Lock()
	s.batches = append(s.batches, append([]int64(nil), itemIDs...))
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]float64)
	for _, id := range itemIDs {
		if score, ok := s.scores[userID][id]; ok {
			out[id] = score
		}
	}
	return out, nil
}

func providerOf(s AffinityPredictor) SnapshotProvider {
	return SnapshotProviderFunc(func() AffinityPredictor { return s })
}

var noSnapshot = SnapshotProviderFunc(func() AffinityPredictor { return nil })

// MockHistory is a testify mock of the History port.
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) ConsumedItems(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockHistory) RecentConsumed(ctx context.Context, userID int64, n int) ([]int64, error) {
	args := m.Called(ctx, userID, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func movie(id int64, title string, popularity float64, genres ...string) models.Movie {
	return models.Movie{ID: id, Title: title, Popularity: popularity, Genres: genres}
}
