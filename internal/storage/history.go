package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// FeedbackHistory reads consumption history from the user_feedback table.
type FeedbackHistory struct {
	db     Querier
	logger *logrus.Logger
}

func NewFeedbackHistory(db Querier, logger *logrus.Logger) *FeedbackHistory {
	return &FeedbackHistory{db: db, logger: logger}
}

// ConsumedItems returns every item the user has left feedback on, whatever
// the status.
func (h *FeedbackHistory) ConsumedItems(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT movie_id
		FROM user_feedback
		WHERE user_id = $1
		ORDER BY movie_id`

	ids, err := h.queryIDs(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumed items for user %d: %w", userID, err)
	}
	return ids, nil
}

// RecentConsumed returns up to n watched items, most recent first.
func (h *FeedbackHistory) RecentConsumed(ctx context.Context, userID int64, n int) ([]int64, error) {
	if n <= 0 {
		return []int64{}, nil
	}

	query := `
		SELECT movie_id
		FROM user_feedback
		WHERE user_id = $1 AND status = $2
		GROUP BY movie_id
		ORDER BY max(created_at) DESC, movie_id ASC
		LIMIT $3`

	ids, err := h.queryIDs(ctx, query, userID, StatusWatched, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent items for user %d: %w", userID, err)
	}
	return ids, nil
}

func (h *FeedbackHistory) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := h.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan movie id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
