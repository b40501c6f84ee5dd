package services

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/hybrec/pkg/models"
)

// CandidateGenerator produces partially scored candidates for one mode.
// Port failures and timeouts yield an empty contribution, never an error.
type CandidateGenerator struct {
	vectors VectorSearcher
	catalog Catalog
	history History
	timeout time.Duration
	metrics *Metrics
	logger  *logrus.Logger

	searchKFactor       int
	personalizedKFactor int
}

func NewCandidateGenerator(
	vectors VectorSearcher,
	catalog Catalog,
	history History,
	searchKFactor int,
	personalizedKFactor int,
	timeout time.Duration,
	metrics *Metrics,
	logger *logrus.Logger,
) *CandidateGenerator {
	return &CandidateGenerator{
		vectors:             vectors,
		catalog:             catalog,
		history:             history,
		timeout:             timeout,
		metrics:             metrics,
		logger:              logger,
		searchKFactor:       searchKFactor,
		personalizedKFactor: personalizedKFactor,
	}
}

func (g *CandidateGenerator) portFailed(port string, err error, fields logrus.Fields) {
	g.metrics.PortError(port)
	g.logger.WithError(err).WithFields(fields).WithField("port", port).Warn("Port call failed, continuing without it")
}

// Examples embeds the display text of the example items as one query.
// Examples resolve by numeric id, then by title, else the raw string is used.
func (g *CandidateGenerator) Examples(ctx context.Context, examples []string, filter models.FilterExpr, limit int) *candidateSet {
	texts := make([]string, 0, len(examples))
	for _, example := range examples {
		texts = append(texts, g.resolveExample(ctx, example))
	}

	return g.vectorQuery(ctx, models.VectorQuery{Text: strings.Join(texts, " "), Filter: filter}, g.searchKFactor*limit)
}

func (g *CandidateGenerator) resolveExample(ctx context.Context, example string) string {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		movie *models.Movie
		err   error
	)
	if id, convErr := strconv.ParseInt(example, 10, 64); convErr == nil {
		movie, err = g.catalog.Get(callCtx, id)
	} else {
		movie, err = g.catalog.FindByTitle(callCtx, example)
	}
	if err != nil {
		g.portFailed(PortCatalog, err, logrus.Fields{"example": example})
	}
	if movie == nil {
		return example
	}
	return movie.DisplayText()
}

// Genres returns popularity-only candidates for items in any of the genres.
func (g *CandidateGenerator) Genres(ctx context.Context, genres []string, limit int) *candidateSet {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	movies, err := g.catalog.ByGenres(callCtx, genres, limit)
	if err != nil {
		g.portFailed(PortCatalog, err, logrus.Fields{"genres": genres})
		return newCandidateSet(0)
	}

	return popularitySet(movies, false)
}

// Popular returns the most popular items outside excluding.
func (g *CandidateGenerator) Popular(ctx context.Context, limit int, excluding []int64, topUp bool) *candidateSet {
	if limit <= 0 {
		return newCandidateSet(0)
	}
	if excluding == nil {
		excluding = []int64{}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	movies, err := g.catalog.MostPopular(callCtx, limit, excluding)
	if err != nil {
		g.portFailed(PortCatalog, err, logrus.Fields{"limit": limit})
		return newCandidateSet(0)
	}

	return popularitySet(movies, topUp)
}

func popularitySet(movies []models.Movie, topUp bool) *candidateSet {
	set := newCandidateSet(len(movies))
	for _, m := range movies {
		set.addPopularity(m.ID, m.Popularity, topUp)
	}
	return set
}

// Personalized scores every item known to the snapshot and keeps the best
// personalizedKFactor*limit by affinity.
func (g *CandidateGenerator) Personalized(ctx context.Context, snapshot AffinityPredictor, userID int64, limit int) *candidateSet {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	scores, err := snapshot.Predict(callCtx, userID, snapshot.ItemIDs())
	if err != nil {
		g.portFailed(PortAffinity, err, logrus.Fields{"user_id": userID, "snapshot": snapshot.Version()})
		return newCandidateSet(0)
	}

	type scored struct {
		id    int64
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for id, s := range scores {
		ranked = append(ranked, scored{id: id, score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	k := g.personalizedKFactor * limit
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	set := newCandidateSet(len(ranked))
	for _, r := range ranked {
		set.setAffinity(r.id, r.score)
	}
	return set
}

// Recent runs one vector query per recently consumed item and unions the
// neighbours, keeping the highest similarity seen for each item.
func (g *CandidateGenerator) Recent(ctx context.Context, userID int64, seedCount, limit int) *candidateSet {
	historyCtx, cancel := context.WithTimeout(ctx, g.timeout)
	seeds, err := g.history.RecentConsumed(historyCtx, userID, seedCount)
	cancel()
	if err != nil {
		g.portFailed(PortHistory, err, logrus.Fields{"user_id": userID})
		return newCandidateSet(0)
	}
	if len(seeds) == 0 {
		return newCandidateSet(0)
	}

	catalogCtx, cancel := context.WithTimeout(ctx, g.timeout)
	records, err := g.catalog.GetMany(catalogCtx, seeds)
	cancel()
	if err != nil {
		g.portFailed(PortCatalog, err, logrus.Fields{"user_id": userID})
		return newCandidateSet(0)
	}

	k := g.searchKFactor * limit
	merged := newCandidateSet(k * len(seeds))
	var mu sync.Mutex

	var eg errgroup.Group
	for _, seed := range seeds {
		movie, ok := records[seed]
		if !ok || movie == nil {
			g.logger.WithField("item_id", seed).Debug("Recent item missing from catalog, skipping seed")
			continue
		}
		text := movie.DisplayText()

		eg.Go(func() error {
			hits := g.search(ctx, models.VectorQuery{Text: text}, k)

			mu.Lock()
			defer mu.Unlock()
			for _, h := range hits {
				merged.mergeVector(h.ItemID, h.Score)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return merged
}

// Search runs the raw query and, for a known user, attaches affinity scores
// for every hit in a single batch.
func (g *CandidateGenerator) Search(ctx context.Context, query string, filter models.FilterExpr, snapshot AffinityPredictor, userID *int64, limit int) *candidateSet {
	set := g.vectorQuery(ctx, models.VectorQuery{Text: query, Filter: filter}, g.searchKFactor*limit)
	if userID == nil || snapshot == nil || set.len() == 0 || !snapshot.KnowsUser(*userID) {
		return set
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	scores, err := snapshot.Predict(callCtx, *userID, set.ids())
	if err != nil {
		g.portFailed(PortAffinity, err, logrus.Fields{"user_id": *userID, "snapshot": snapshot.Version()})
		return set
	}
	for id, s := range scores {
		if set.has(id) {
			set.setAffinity(id, s)
		}
	}
	return set
}

func (g *CandidateGenerator) vectorQuery(ctx context.Context, query models.VectorQuery, k int) *candidateSet {
	hits := g.search(ctx, query, k)
	set := newCandidateSet(len(hits))
	for _, h := range hits {
		set.mergeVector(h.ItemID, h.Score)
	}
	return set
}

func (g *CandidateGenerator) search(ctx context.Context, query models.VectorQuery, k int) []models.VectorHit {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	hits, err := g.vectors.Search(callCtx, query, k)
	if err != nil {
		g.portFailed(PortVectorSearch, err, logrus.Fields{"k": k})
		return nil
	}
	return hits
}
