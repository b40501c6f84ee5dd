package models

// Mode selects the candidate generation path for a ranking request.
type Mode string

const (
	ModeGuestExamples  Mode = "guest_examples"
	ModeGuestGenres    Mode = "guest_genres"
	ModeGuestPopular   Mode = "guest_popular"
	ModePersonalized   Mode = "personalized"
	ModeRecentActivity Mode = "recent_activity"
	ModeSearch         Mode = "search"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeGuestExamples, ModeGuestGenres, ModeGuestPopular,
		ModePersonalized, ModeRecentActivity, ModeSearch:
		return true
	}
	return false
}

// RankingRequest is the input of the ranking engine. A request carrying a
// UserID is authenticated and subject to history exclusion.
type RankingRequest struct {
	Mode         Mode     `json:"mode" validate:"required,oneof=guest_examples guest_genres guest_popular personalized recent_activity search"`
	UserID       *int64   `json:"-"`
	QueryText    string   `json:"query_text,omitempty" validate:"max=1000"`
	ExampleItems []string `json:"example_items,omitempty" validate:"max=20"`
	Genres       []string `json:"genres,omitempty" validate:"max=20"`
	Limit        int      `json:"limit" validate:"required,min=1,max=100"`
	RecentSeeds  int      `json:"recent_seeds,omitempty" validate:"omitempty,min=1,max=20"`
	MinYear      *int     `json:"min_year,omitempty"`
	MaxYear      *int     `json:"max_year,omitempty"`
}

// Authenticated reports whether the request carries a user identity.
func (r *RankingRequest) Authenticated() bool {
	return r.UserID != nil
}

// VectorQuery is a nearest-neighbour query. Exactly one of Text or Vector is
// expected; Vector wins when both are set.
type VectorQuery struct {
	Text   string
	Vector []float32
	Filter FilterExpr
}

// VectorHit is one nearest-neighbour match with similarity in [0,1].
type VectorHit struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
}

// RankedItem is a resolved display record with its ranking score.
type RankedItem struct {
	Movie
	Score    float64 `json:"score"`
	Fallback bool    `json:"fallback,omitempty"`
}

// RankedResult is the ordered output of the ranking engine.
type RankedResult struct {
	Mode            Mode         `json:"mode"`
	EffectiveMode   Mode         `json:"effective_mode"`
	SnapshotVersion string       `json:"snapshot_version,omitempty"`
	Items           []RankedItem `json:"items"`
	FallbackReasons []string     `json:"fallback_reasons,omitempty"`
}

// ItemIDs returns the ranked item ids in order.
func (r *RankedResult) ItemIDs() []int64 {
	ids := make([]int64, len(r.Items))
	for i, item := range r.Items {
		ids[i] = item.ID
	}
	return ids
}
