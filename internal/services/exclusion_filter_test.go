package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/temcen/hybrec/pkg/models"
)

func TestExclusionFilter_Applies(t *testing.T) {
	user := int64Ptr(7)

	tests := []struct {
		mode   models.Mode
		userID *int64
		want   bool
	}{
		{models.ModePersonalized, user, true},
		{models.ModeRecentActivity, user, true},
		{models.ModeSearch, user, true},
		{models.ModeSearch, nil, false},
		{models.ModeGuestExamples, user, false},
		{models.ModeGuestGenres, user, false},
		{models.ModeGuestPopular, user, false},
	}

	var filter ExclusionFilter
	for _, tt := range tests {
		req := &models.RankingRequest{Mode: tt.mode, UserID: tt.userID}
		assert.Equal(t, tt.want, filter.Applies(req), "mode %s authenticated %v", tt.mode, tt.userID != nil)
	}
}

func TestExclusionFilter_Filter(t *testing.T) {
	var filter ExclusionFilter
	history := historySet([]int64{2, 4})

	kept := filter.Filter([]Candidate{{ItemID: 1}, {ItemID: 2}, {ItemID: 3}, {ItemID: 4}}, history)
	assert.Equal(t, []Candidate{{ItemID: 1}, {ItemID: 3}}, kept)

	untouched := []Candidate{{ItemID: 2}}
	assert.Equal(t, untouched, filter.Filter(untouched, nil))

	set := newCandidateSet(0)
	for _, id := range []int64{1, 2, 3, 4, 5} {
		set.mergeVector(id, 0.5)
	}
	assert.Equal(t, 3, filter.Eligible(set, history))
	assert.Equal(t, 5, filter.Eligible(set, nil))
}
