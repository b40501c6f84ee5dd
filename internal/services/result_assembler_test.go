package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultAssembler_BackfillsMissingRecords(t *testing.T) {
	catalog := newMemoryCatalog(
		movie(1, "Alien", 90),
		movie(3, "Up", 70),
		movie(4, "Big", 60),
	)
	assembler := NewResultAssembler(catalog, time.Second, nil, quietLogger())

	candidates := []Candidate{
		{ItemID: 4, FinalScore: 0.1},
		{ItemID: 2, FinalScore: 0.9},
		{ItemID: 1, FinalScore: 0.8},
		{ItemID: 3, FinalScore: 0.2, TopUp: true},
	}

	items := assembler.Assemble(context.Background(), candidates, 2)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, 0.8, items[0].Score)
	assert.Equal(t, int64(4), items[1].ID)

	// The first batch asks for the top two; the missing item costs one more lookup.
	assert.Equal(t, [][]int64{{2, 1}, {4}}, catalog.getManyCalls)
}

func TestResultAssembler_ExhaustedList(t *testing.T) {
	catalog := newMemoryCatalog(movie(1, "Alien", 90))
	assembler := NewResultAssembler(catalog, time.Second, nil, quietLogger())

	items := assembler.Assemble(context.Background(), []Candidate{{ItemID: 1, TopUp: true}, {ItemID: 8}}, 5)
	require.Len(t, items, 1)
	assert.True(t, items[0].Fallback)

	empty := assembler.Assemble(context.Background(), nil, 5)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestResultAssembler_CatalogFailure(t *testing.T) {
	catalog := newMemoryCatalog(movie(1, "Alien", 90))
	catalog.fail["GetMany"] = errors.New("catalog down")
	metrics := NewMetrics(nil, quietLogger())
	assembler := NewResultAssembler(catalog, time.Second, metrics, quietLogger())

	items := assembler.Assemble(context.Background(), []Candidate{{ItemID: 1}}, 1)
	assert.Empty(t, items)
}
