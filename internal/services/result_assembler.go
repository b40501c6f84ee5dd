package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/pkg/models"
)

// ResultAssembler turns ranked candidates into display records.
type ResultAssembler struct {
	catalog Catalog
	timeout time.Duration
	metrics *Metrics
	logger  *logrus.Logger
}

func NewResultAssembler(catalog Catalog, timeout time.Duration, metrics *Metrics, logger *logrus.Logger) *ResultAssembler {
	return &ResultAssembler{
		catalog: catalog,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

// Assemble ranks the candidates and resolves them until limit records are
// collected. Items missing from the catalog are skipped and the next ranked
// candidate takes their place. A catalog failure ends assembly with the
// records resolved so far.
func (a *ResultAssembler) Assemble(ctx context.Context, candidates []Candidate, limit int) []models.RankedItem {
	rankCandidates(candidates)

	items := make([]models.RankedItem, 0, min(limit, len(candidates)))
	pos := 0
	for len(items) < limit && pos < len(candidates) {
		end := min(pos+limit-len(items), len(candidates))
		batch := candidates[pos:end]
		pos = end

		ids := make([]int64, len(batch))
		for i, c := range batch {
			ids[i] = c.ItemID
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		records, err := a.catalog.GetMany(callCtx, ids)
		cancel()
		if err != nil {
			a.metrics.PortError(PortCatalog)
			a.logger.WithError(err).WithField("items", len(ids)).Warn("Catalog lookup failed during assembly")
			break
		}

		for _, c := range batch {
			movie, ok := records[c.ItemID]
			if !ok || movie == nil {
				a.logger.WithField("item_id", c.ItemID).Debug("Ranked item missing from catalog, backfilling")
				continue
			}
			items = append(items, models.RankedItem{
				Movie:    *movie,
				Score:    c.FinalScore,
				Fallback: c.TopUp,
			})
		}
	}

	return items
}
