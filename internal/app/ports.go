package service

import (
	"context"

	"github.com/okian/palate/internal/domain/model"
)

// ItemSource yields a user's public rated items in one category.
type ItemSource interface {
	RatedItems(ctx context.Context, userID string, c model.Category) ([]model.RatedItem, error)
}

// SimilarityStore is the persisted taste_similarity table.
type SimilarityStore interface {
	UpsertSimilarity(ctx context.Context, row model.TasteSimilarity) error
	DeleteSimilarity(ctx context.Context, low, high string, c model.Category) (bool, error)
}

// Discoverer returns every pair sharing enough match keys in a category.
type Discoverer interface {
	Discover(ctx context.Context, c model.Category) ([]model.Pair, error)
}

// ProfileSource returns public profiles by user id.
type ProfileSource interface {
	Profiles(ctx context.Context, ids []string) (map[string]model.Profile, error)
}

// Cache is the tiered projection of the similarity store.
type Cache interface {
	Friends(ctx context.Context, u string) ([]string, error)
	HighSimilarity(ctx context.Context, u string) ([]model.UserScore, error)
	ModerateSimilarity(ctx context.Context, u string) ([]model.UserScore, error)
	PairScore(ctx context.Context, a, b string, c model.Category) (*model.PairScore, error)
	AllScoresForUser(ctx context.Context, u string) ([]model.UserScore, error)

	SetPairScore(ctx context.Context, a, b string, c model.Category, ps model.PairScore) error
	DropPair(ctx context.Context, a, b string, c model.Category) error
	DropLists(ctx context.Context, users ...string) error
	InvalidateUser(ctx context.Context, u string) error
	Flush(ctx context.Context) (int, error)
}

// Counter is optionally implemented by the store for stats.
type Counter interface {
	CountSimilarities(ctx context.Context) (int, error)
}
