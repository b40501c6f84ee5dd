package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackHistory_ConsumedItems(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	history := NewFeedbackHistory(mockDB, testLogger())

	mockDB.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT movie_id FROM user_feedback WHERE user_id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"movie_id"}).AddRow(int64(3)).AddRow(int64(9)))

	ids, err := history.ConsumedItems(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, ids)

	mockDB.ExpectQuery("FROM user_feedback").
		WithArgs(int64(43)).
		WillReturnRows(pgxmock.NewRows([]string{"movie_id"}))

	ids, err = history.ConsumedItems(context.Background(), 43)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestFeedbackHistory_RecentConsumed(t *testing.T) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	history := NewFeedbackHistory(mockDB, testLogger())

	t.Run("watched items newest first", func(t *testing.T) {
		mockDB.ExpectQuery(regexp.QuoteMeta("ORDER BY max(created_at) DESC, movie_id ASC LIMIT $3")).
			WithArgs(int64(42), StatusWatched, 3).
			WillReturnRows(pgxmock.NewRows([]string{"movie_id"}).AddRow(int64(12)).AddRow(int64(5)))

		ids, err := history.RecentConsumed(context.Background(), 42, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{12, 5}, ids)
	})

	t.Run("non-positive n skips the query", func(t *testing.T) {
		ids, err := history.RecentConsumed(context.Background(), 42, 0)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		mockDB.ExpectQuery("FROM user_feedback").
			WithArgs(int64(42), StatusWatched, 2).
			WillReturnError(errors.New("timeout"))

		_, err := history.RecentConsumed(context.Background(), 42, 2)
		assert.ErrorContains(t, err, "user 42")
	})

	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func movieRecords(ids ...interface{}) []*neo4j.Record {
	records := make([]*neo4j.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, &neo4j.Record{Keys: []string{"movie_id"}, Values: []interface{}{id}})
	}
	return records
}

func TestGraphHistory(t *testing.T) {
	var (
		gotCypher string
		gotParams map[string]interface{}
	)
	records := movieRecords(int64(4), int64(8))

	history := NewGraphHistoryWithRunner(func(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error) {
		gotCypher = cypher
		gotParams = params
		return records, nil
	}, testLogger())

	t.Run("consumed items", func(t *testing.T) {
		ids, err := history.ConsumedItems(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 8}, ids)
		assert.Contains(t, gotCypher, "WATCHED|RATED")
		assert.Equal(t, int64(42), gotParams["user_id"])
	})

	t.Run("recent items pass the limit", func(t *testing.T) {
		ids, err := history.RecentConsumed(context.Background(), 42, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 8}, ids)
		assert.Equal(t, 2, gotParams["limit"])
	})

	t.Run("unexpected id type", func(t *testing.T) {
		records = movieRecords("not-an-id")
		_, err := history.ConsumedItems(context.Background(), 42)
		assert.ErrorContains(t, err, "want int64")
	})

	t.Run("runner error", func(t *testing.T) {
		failing := NewGraphHistoryWithRunner(func(context.Context, string, map[string]interface{}) ([]*neo4j.Record, error) {
			return nil, errors.New("graph unavailable")
		}, testLogger())

		_, err := failing.RecentConsumed(context.Background(), 1, 3)
		assert.ErrorContains(t, err, "graph unavailable")
	})
}
