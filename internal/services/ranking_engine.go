package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/pkg/models"
)

// Fallback reasons reported on the result and in metrics.
const (
	ReasonNoExamples  = "no_examples"
	ReasonNoSnapshot  = "no_snapshot"
	ReasonUnknownUser = "unknown_user"
	ReasonTopUp       = "popularity_top_up"
)

const (
	defaultSearchKFactor       = 2
	defaultPersonalizedKFactor = 3
	defaultRecentSeedCount     = 3
	defaultPortTimeout         = 800 * time.Millisecond
)

// RankingEngine selects the generation path for a request, tops it up with
// popular items when it falls short, then fuses, filters and assembles.
type RankingEngine struct {
	generator *CandidateGenerator
	fusion    *ScoreFusion
	exclusion ExclusionFilter
	assembler *ResultAssembler
	history   History
	snapshots SnapshotProvider
	metrics   *Metrics
	logger    *logrus.Logger

	recentSeedCount int
	timeout         time.Duration
}

func NewRankingEngine(
	vectors VectorSearcher,
	catalog Catalog,
	history History,
	snapshots SnapshotProvider,
	cfg config.RecommendationConfig,
	metrics *Metrics,
	logger *logrus.Logger,
) *RankingEngine {
	if cfg.SearchKFactor <= 0 {
		cfg.SearchKFactor = defaultSearchKFactor
	}
	if cfg.PersonalizedKFactor <= 0 {
		cfg.PersonalizedKFactor = defaultPersonalizedKFactor
	}
	if cfg.RecentSeedCount <= 0 {
		cfg.RecentSeedCount = defaultRecentSeedCount
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = defaultPortTimeout
	}

	return &RankingEngine{
		generator: NewCandidateGenerator(vectors, catalog, history,
			cfg.SearchKFactor, cfg.PersonalizedKFactor, cfg.PortTimeout, metrics, logger),
		fusion:          NewScoreFusion(cfg.Fusion),
		assembler:       NewResultAssembler(catalog, cfg.PortTimeout, metrics, logger),
		history:         history,
		snapshots:       snapshots,
		metrics:         metrics,
		logger:          logger,
		recentSeedCount: cfg.RecentSeedCount,
		timeout:         cfg.PortTimeout,
	}
}

// Rank returns at most req.Limit distinct items. It only fails on invalid
// input; unavailable ports degrade the result instead.
func (e *RankingEngine) Rank(ctx context.Context, req *models.RankingRequest) (*models.RankedResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	snapshot := e.snapshots.Current()

	result := &models.RankedResult{
		Mode:          req.Mode,
		EffectiveMode: req.Mode,
	}
	if snapshot != nil {
		result.SnapshotVersion = snapshot.Version()
	}

	examples := nonBlank(req.ExampleItems)
	switch {
	case req.Mode == models.ModeGuestExamples && len(examples) == 0:
		e.degrade(result, ReasonNoExamples)
	case req.Mode == models.ModePersonalized && snapshot == nil:
		e.degrade(result, ReasonNoSnapshot)
	case req.Mode == models.ModePersonalized && !snapshot.KnowsUser(*req.UserID):
		e.degrade(result, ReasonUnknownUser)
	}

	excludeHistory := e.exclusion.Applies(req)
	filter := vectorFilter(req)

	var (
		consumed  map[int64]struct{}
		generated *candidateSet
	)
	generate := func(ctx context.Context) *candidateSet {
		switch result.EffectiveMode {
		case models.ModeGuestExamples:
			return e.generator.Examples(ctx, examples, filter, req.Limit)
		case models.ModeGuestGenres:
			return e.generator.Genres(ctx, nonBlank(req.Genres), req.Limit)
		case models.ModePersonalized:
			return e.generator.Personalized(ctx, snapshot, *req.UserID, req.Limit)
		case models.ModeRecentActivity:
			seeds := e.recentSeedCount
			if req.RecentSeeds > 0 {
				seeds = req.RecentSeeds
			}
			return e.generator.Recent(ctx, *req.UserID, seeds, req.Limit)
		case models.ModeSearch:
			return e.generator.Search(ctx, strings.TrimSpace(req.QueryText), filter, snapshot, req.UserID, req.Limit)
		default:
			return e.generator.Popular(ctx, req.Limit, sortedIDs(consumed), false)
		}
	}

	switch {
	case !excludeHistory:
		generated = generate(ctx)
	case result.EffectiveMode == models.ModeGuestPopular:
		// The popular list is requested with the history already excluded.
		consumed = e.consumed(ctx, *req.UserID)
		generated = generate(ctx)
	default:
		var eg errgroup.Group
		eg.Go(func() error {
			consumed = e.consumed(ctx, *req.UserID)
			return nil
		})
		eg.Go(func() error {
			generated = generate(ctx)
			return nil
		})
		_ = eg.Wait()
	}

	candidates := e.fusion.Fuse(generated.list())

	eligible := e.exclusion.Eligible(generated, consumed)
	if eligible < req.Limit && result.EffectiveMode != models.ModeGuestPopular {
		excluding := generated.ids()
		for id := range consumed {
			if !generated.has(id) {
				excluding = append(excluding, id)
			}
		}
		sort.Slice(excluding, func(i, j int) bool { return excluding[i] < excluding[j] })

		topUp := e.generator.Popular(ctx, req.Limit-eligible, excluding, true)
		result.FallbackReasons = append(result.FallbackReasons, ReasonTopUp)
		e.metrics.Fallback(ReasonTopUp)
		candidates = append(candidates, e.fusion.Fuse(topUp.list())...)
	}

	candidates = e.exclusion.Filter(candidates, consumed)
	result.Items = e.assembler.Assemble(ctx, candidates, req.Limit)

	elapsed := time.Since(start)
	e.metrics.ObserveRequest(result, elapsed)
	e.logger.WithFields(logrus.Fields{
		"mode":           result.Mode,
		"effective_mode": result.EffectiveMode,
		"snapshot":       result.SnapshotVersion,
		"candidates":     len(candidates),
		"items":          len(result.Items),
		"fallbacks":      result.FallbackReasons,
		"latency":        elapsed,
	}).Debug("Ranking completed")

	return result, nil
}

func (e *RankingEngine) degrade(result *models.RankedResult, reason string) {
	result.EffectiveMode = models.ModeGuestPopular
	result.FallbackReasons = append(result.FallbackReasons, reason)
	e.metrics.Fallback(reason)
}

// consumed fetches the user's history. A failing history port is treated
// as an empty history.
func (e *RankingEngine) consumed(ctx context.Context, userID int64) map[int64]struct{} {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ids, err := e.history.ConsumedItems(callCtx, userID)
	if err != nil {
		e.metrics.PortError(PortHistory)
		e.logger.WithError(err).WithField("user_id", userID).Warn("History lookup failed, ranking without exclusion")
		return nil
	}
	return historySet(ids)
}

func validateRequest(req *models.RankingRequest) error {
	if req == nil {
		return invalid("request", "is required")
	}
	if !req.Mode.Valid() {
		return invalid("mode", "is not a known ranking mode")
	}
	if req.Limit <= 0 {
		return invalid("limit", "must be positive")
	}
	if req.MinYear != nil && req.MaxYear != nil && *req.MinYear > *req.MaxYear {
		return invalid("min_year", "must not exceed max_year")
	}

	switch req.Mode {
	case models.ModeSearch:
		if strings.TrimSpace(req.QueryText) == "" {
			return invalid("query_text", "is required for search")
		}
	case models.ModeGuestGenres:
		if len(nonBlank(req.Genres)) == 0 {
			return invalid("genres", "is required for guest_genres")
		}
	case models.ModeGuestExamples:
		if len(req.ExampleItems) == 0 {
			return invalid("example_items", "is required for guest_examples")
		}
	case models.ModePersonalized, models.ModeRecentActivity:
		if req.UserID == nil {
			return invalid("user_id", "is required for "+string(req.Mode))
		}
	}

	return nil
}

// vectorFilter narrows vector search by release year and, for searches, by
// genre.
func vectorFilter(req *models.RankingRequest) models.FilterExpr {
	var and models.And
	if years := models.YearRange(req.MinYear, req.MaxYear); years != nil {
		and = append(and, years)
	}
	if req.Mode == models.ModeSearch {
		if genres := nonBlank(req.Genres); len(genres) > 0 {
			and = append(and, models.In{Field: "genres", Values: models.Strings(genres)})
		}
	}

	switch len(and) {
	case 0:
		return nil
	case 1:
		return and[0]
	}
	return and
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
