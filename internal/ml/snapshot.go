package ml

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ModelSnapshot is an immutable latent-factor model. The predicted affinity
// of a user for an item is the dot product of their factor rows.
type ModelSnapshot struct {
	version   string
	trainedOn time.Time
	loadedAt  time.Time

	userIndex map[int64]int
	itemIndex map[int64]int
	itemIDs   []int64

	userFactors *mat.Dense
	itemFactors *mat.Dense
}

// SnapshotInfo describes a snapshot for operators.
type SnapshotInfo struct {
	Version   string    `json:"version"`
	Users     int       `json:"users"`
	Items     int       `json:"items"`
	Factors   int       `json:"factors"`
	TrainedOn time.Time `json:"trained_on,omitempty"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// NewModelSnapshot builds a snapshot. Row i of userFactors belongs to
// userIDs[i] and row j of itemFactors to itemIDs[j].
func NewModelSnapshot(version string, userIDs, itemIDs []int64, userFactors, itemFactors *mat.Dense) (*ModelSnapshot, error) {
	if version == "" {
		return nil, fmt.Errorf("snapshot version cannot be empty")
	}

	ur, uc := userFactors.Dims()
	ir, ic := itemFactors.Dims()
	if ur != len(userIDs) {
		return nil, fmt.Errorf("user factors have %d rows for %d users", ur, len(userIDs))
	}
	if ir != len(itemIDs) {
		return nil, fmt.Errorf("item factors have %d rows for %d items", ir, len(itemIDs))
	}
	if uc != ic {
		return nil, fmt.Errorf("factor dimension mismatch: users %d, items %d", uc, ic)
	}

	userIndex, err := indexIDs(userIDs, "user")
	if err != nil {
		return nil, err
	}
	itemIndex, err := indexIDs(itemIDs, "item")
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(itemIDs))
	copy(ids, itemIDs)

	return &ModelSnapshot{
		version:     version,
		loadedAt:    time.Now(),
		userIndex:   userIndex,
		itemIndex:   itemIndex,
		itemIDs:     ids,
		userFactors: userFactors,
		itemFactors: itemFactors,
	}, nil
}

func indexIDs(ids []int64, kind string) (map[int64]int, error) {
	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("duplicate %s id %d", kind, id)
		}
		index[id] = i
	}
	return index, nil
}

func (s *ModelSnapshot) Version() string {
	return s.version
}

func (s *ModelSnapshot) KnowsUser(userID int64) bool {
	_, ok := s.userIndex[userID]
	return ok
}

// ItemIDs returns a copy of the item ids known to the snapshot.
func (s *ModelSnapshot) ItemIDs() []int64 {
	ids := make([]int64, len(s.itemIDs))
	copy(ids, s.itemIDs)
	return ids
}

// Predict scores the requested items for the user. Unknown users yield an
// empty map and unknown items are omitted.
func (s *ModelSnapshot) Predict(ctx context.Context, userID int64, itemIDs []int64) (map[int64]float64, error) {
	u, ok := s.userIndex[userID]
	if !ok {
		return map[int64]float64{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	userRow := s.userFactors.RawRowView(u)
	scores := make(map[int64]float64, len(itemIDs))

	// Whole-catalog requests are a single matrix-vector product.
	if len(itemIDs) >= len(s.itemIDs) {
		all := s.predictAll(userRow)
		for _, id := range itemIDs {
			if j, ok := s.itemIndex[id]; ok {
				scores[id] = all.AtVec(j)
			}
		}
		return scores, nil
	}

	for _, id := range itemIDs {
		j, ok := s.itemIndex[id]
		if !ok {
			continue
		}
		scores[id] = floats.Dot(userRow, s.itemFactors.RawRowView(j))
	}
	return scores, nil
}

func (s *ModelSnapshot) predictAll(userRow []float64) *mat.VecDense {
	rows, _ := s.itemFactors.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(s.itemFactors, mat.NewVecDense(len(userRow), userRow))
	return out
}

func (s *ModelSnapshot) Info() SnapshotInfo {
	_, factors := s.userFactors.Dims()
	return SnapshotInfo{
		Version:   s.version,
		Users:     len(s.userIndex),
		Items:     len(s.itemIDs),
		Factors:   factors,
		TrainedOn: s.trainedOn,
		LoadedAt:  s.loadedAt,
	}
}
