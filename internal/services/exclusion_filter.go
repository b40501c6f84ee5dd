package services

import (
	"github.com/temcen/hybrec/pkg/models"
)

// ExclusionFilter drops items the user already consumed.
type ExclusionFilter struct{}

// Applies reports whether history exclusion is in force for the request.
// Guest modes never exclude, even when a token was presented.
func (ExclusionFilter) Applies(req *models.RankingRequest) bool {
	if !req.Authenticated() {
		return false
	}

	switch req.Mode {
	case models.ModePersonalized, models.ModeRecentActivity, models.ModeSearch:
		return true
	default:
		return false
	}
}

func (ExclusionFilter) Filter(candidates []Candidate, history map[int64]struct{}) []Candidate {
	if len(history) == 0 {
		return candidates
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if _, consumed := history[c.ItemID]; !consumed {
			kept = append(kept, c)
		}
	}
	return kept
}

// Eligible counts the candidates Filter would keep.
func (ExclusionFilter) Eligible(set *candidateSet, history map[int64]struct{}) int {
	if len(history) == 0 {
		return set.len()
	}

	n := 0
	for _, id := range set.order {
		if _, consumed := history[id]; !consumed {
			n++
		}
	}
	return n
}

func historySet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
