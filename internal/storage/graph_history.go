package storage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// CypherRunner runs a read query and collects its records.
type CypherRunner func(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error)

// GraphHistory reads consumption history from (:User)-[:WATCHED]->(:Movie)
// relationships in Neo4j.
type GraphHistory struct {
	run    CypherRunner
	logger *logrus.Logger
}

func NewGraphHistory(driver neo4j.DriverWithContext, logger *logrus.Logger) *GraphHistory {
	return NewGraphHistoryWithRunner(driverRunner(driver), logger)
}

func NewGraphHistoryWithRunner(run CypherRunner, logger *logrus.Logger) *GraphHistory {
	return &GraphHistory{run: run, logger: logger}
}

func driverRunner(driver neo4j.DriverWithContext) CypherRunner {
	return func(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error) {
		session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
		defer session.Close(ctx)

		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
		if err != nil {
			return nil, err
		}

		return result.([]*neo4j.Record), nil
	}
}

func (h *GraphHistory) ConsumedItems(ctx context.Context, userID int64) ([]int64, error) {
	cypher := `
		MATCH (u:User {id: $user_id})-[:WATCHED|RATED]->(m:Movie)
		RETURN DISTINCT m.id AS movie_id
		ORDER BY movie_id`

	records, err := h.run(ctx, cypher, map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get consumed items for user %d: %w", userID, err)
	}
	return movieIDs(records)
}

func (h *GraphHistory) RecentConsumed(ctx context.Context, userID int64, n int) ([]int64, error) {
	if n <= 0 {
		return []int64{}, nil
	}

	cypher := `
		MATCH (u:User {id: $user_id})-[w:WATCHED]->(m:Movie)
		WITH m.id AS movie_id, max(w.at) AS last_watched
		RETURN movie_id
		ORDER BY last_watched DESC, movie_id ASC
		LIMIT $limit`

	records, err := h.run(ctx, cypher, map[string]interface{}{
		"user_id": userID,
		"limit":   n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent items for user %d: %w", userID, err)
	}
	return movieIDs(records)
}

func movieIDs(records []*neo4j.Record) ([]int64, error) {
	ids := make([]int64, 0, len(records))
	for _, record := range records {
		value, ok := record.Get("movie_id")
		if !ok {
			return nil, fmt.Errorf("record is missing movie_id")
		}
		id, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("movie_id has type %T, want int64", value)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
