package services

import "sort"

// Candidate is an item under consideration with the partial scores gathered
// for it. FinalScore is only meaningful after fusion.
type Candidate struct {
	ItemID        int64
	VectorScore   *float64
	AffinityScore *float64
	Popularity    *float64
	FinalScore    float64
	TopUp         bool
}

func floatPtr(v float64) *float64 {
	return &v
}

// candidateSet keeps exactly one Candidate per item id in first-seen order.
type candidateSet struct {
	order []int64
	byID  map[int64]*Candidate
}

func newCandidateSet(capacity int) *candidateSet {
	return &candidateSet{
		order: make([]int64, 0, capacity),
		byID:  make(map[int64]*Candidate, capacity),
	}
}

func (s *candidateSet) get(id int64) (*Candidate, bool) {
	c, ok := s.byID[id]
	if !ok {
		c = &Candidate{ItemID: id}
		s.byID[id] = c
		s.order = append(s.order, id)
	}
	return c, ok
}

// mergeVector records a similarity, keeping the maximum seen for the item.
func (s *candidateSet) mergeVector(id int64, score float64) {
	c, _ := s.get(id)
	if c.VectorScore == nil || score > *c.VectorScore {
		c.VectorScore = floatPtr(score)
	}
}

func (s *candidateSet) setAffinity(id int64, score float64) {
	c, _ := s.get(id)
	c.AffinityScore = floatPtr(score)
}

// addPopularity inserts a popularity-only candidate. Items already present
// are left untouched and false is returned.
func (s *candidateSet) addPopularity(id int64, popularity float64, topUp bool) bool {
	if s.has(id) {
		return false
	}
	c, _ := s.get(id)
	c.Popularity = floatPtr(popularity)
	c.TopUp = topUp
	return true
}

func (s *candidateSet) has(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *candidateSet) len() int {
	return len(s.order)
}

// ids returns the item ids in ascending order.
func (s *candidateSet) ids() []int64 {
	ids := make([]int64, len(s.order))
	copy(ids, s.order)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *candidateSet) list() []Candidate {
	out := make([]Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// rankCandidates orders generated candidates before top-up candidates, then
// by descending FinalScore, then by ascending ItemID.
func rankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.TopUp != b.TopUp {
			return !a.TopUp
		}
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		return a.ItemID < b.ItemID
	})
}
