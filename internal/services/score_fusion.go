package services

import (
	"github.com/temcen/hybrec/internal/config"
)

const (
	DefaultAffinityWeight = 0.6
	DefaultVectorWeight   = 0.4
)

// ScoreFusion merges the partial scores of a candidate into FinalScore.
//
// Both signals present: AffinityWeight*a + VectorWeight*v. One signal present:
// that score unchanged. Neither: popularity divided by the largest popularity
// among the popularity-only candidates being fused, or 1.0 for all of them
// when every popularity is zero.
type ScoreFusion struct {
	AffinityWeight float64
	VectorWeight   float64
}

func NewScoreFusion(cfg config.FusionConfig) *ScoreFusion {
	if cfg.AffinityWeight == 0 && cfg.VectorWeight == 0 {
		cfg.AffinityWeight = DefaultAffinityWeight
		cfg.VectorWeight = DefaultVectorWeight
	}

	return &ScoreFusion{
		AffinityWeight: cfg.AffinityWeight,
		VectorWeight:   cfg.VectorWeight,
	}
}

// Fuse sets FinalScore on every candidate in place and returns the slice.
func (f *ScoreFusion) Fuse(candidates []Candidate) []Candidate {
	maxPopularity := 0.0
	for _, c := range candidates {
		if c.VectorScore == nil && c.AffinityScore == nil && c.Popularity != nil && *c.Popularity > maxPopularity {
			maxPopularity = *c.Popularity
		}
	}

	for i := range candidates {
		c := &candidates[i]
		switch {
		case c.AffinityScore != nil && c.VectorScore != nil:
			c.FinalScore = f.AffinityWeight*(*c.AffinityScore) + f.VectorWeight*(*c.VectorScore)
		case c.AffinityScore != nil:
			c.FinalScore = *c.AffinityScore
		case c.VectorScore != nil:
			c.FinalScore = *c.VectorScore
		case maxPopularity <= 0:
			c.FinalScore = 1.0
		case c.Popularity != nil && *c.Popularity > 0:
			c.FinalScore = *c.Popularity / maxPopularity
		default:
			c.FinalScore = 0
		}
	}

	return candidates
}
