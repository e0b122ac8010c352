// Package model contains domain models passed between layers.
package model

import "time"

// Category is the kind of item two users can overlap on.
type Category string

// Supported categories.
const (
	CategoryRestaurant Category = "restaurant"
	CategoryWine       Category = "wine"
	CategorySpirit     Category = "spirit"
)

// Categories lists every category in batch order.
var Categories = []Category{CategoryRestaurant, CategoryWine, CategorySpirit}

// Valid reports whether c is a supported category.
func (c Category) Valid() bool {
	switch c {
	case CategoryRestaurant, CategoryWine, CategorySpirit:
		return true
	}
	return false
}

// NoteType is the journaling application's note kind.
type NoteType string

// Known note types.
const (
	NoteRestaurant NoteType = "restaurant"
	NoteWine       NoteType = "wine"
	NoteSpirit     NoteType = "spirit"
	NoteVisit      NoteType = "visit"
)

// CategoryForNoteType maps a note type onto a category. Venue visits and
// unknown types have none.
func CategoryForNoteType(t NoteType) (Category, bool) {
	switch t {
	case NoteRestaurant:
		return CategoryRestaurant, true
	case NoteWine:
		return CategoryWine, true
	case NoteSpirit:
		return CategorySpirit, true
	}
	return "", false
}

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 10
)

// RatedItem is a public note reduced to what scoring needs.
type RatedItem struct {
	OwnerID       string
	Category      Category
	MatchKey      string
	Rating        float64
	ExperiencedAt time.Time
}

// Note is a journal note as read from the journaling tables.
type Note struct {
	ID            string
	AuthorID      string
	Type          NoteType
	VenueID       string
	Extension     map[string]any
	Rating        float64
	ExperiencedAt time.Time
	Public        bool
}

// TasteSimilarity is one persisted pair score. UserLow < UserHigh always.
type TasteSimilarity struct {
	UserLow        string    `json:"user_low"`
	UserHigh       string    `json:"user_high"`
	Category       Category  `json:"category"`
	Score          float64   `json:"score"`
	OverlapCount   int       `json:"overlap_count"`
	LastComputedAt time.Time `json:"last_computed_at"`
}

// PairScore is the cached projection of a pair row.
type PairScore struct {
	Score        float64 `json:"score"`
	OverlapCount int     `json:"overlap_count"`
}

// UserScore is a pair row seen from one user's side.
type UserScore struct {
	OtherUserID  string   `json:"other_user_id"`
	Category     Category `json:"category"`
	Score        float64  `json:"score"`
	OverlapCount int      `json:"overlap_count"`
}

// Profile holds the public profile fields joined onto discovery results.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Bio         string `json:"bio"`
}

// Tier annotates a discovery candidate.
type Tier string

// Discovery tiers.
const (
	TierFriend   Tier = "friend"
	TierHigh     Tier = "high"
	TierModerate Tier = "moderate"
	TierGeneral  Tier = "general"
)

// Canonical orders two user ids so the lower one comes first.
func Canonical(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Pair is a discovered user pair sharing at least the minimum number of
// distinct match keys in one category.
type Pair struct {
	UserLow    string
	UserHigh   string
	SharedKeys int
}
