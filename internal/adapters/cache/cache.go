// Package cache is the tiered read-through projection of the similarity store.
//
// The store is canonical. Every cached value can be rebuilt from it, so a
// miss or a KV failure always falls back to a store read; it never means
// "no relationship".
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/palate/internal/adapters/kv"
	"github.com/okian/palate/internal/adapters/repository"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

// Namespace prefixes every key this cache owns.
const Namespace = "tss:"

// Tier names used in keys and metrics.
const (
	tierFriends  = "friends"
	tierHigh     = "high"
	tierModerate = "moderate"
	tierPair     = "pair"
)

// Default TTLs.
const (
	DefaultFriendsTTL = time.Hour
	DefaultListTTL    = 24 * time.Hour
	DefaultPairTTL    = 24 * time.Hour
)

// SimilarityStore is the canonical source the cache projects.
type SimilarityStore interface {
	GetSimilarity(ctx context.Context, low, high string, c model.Category) (*model.TasteSimilarity, error)
	ScoresForUser(ctx context.Context, userID string) ([]model.UserScore, error)
}

// FriendSource lists a user's pinned friends.
type FriendSource interface {
	PinnedFriends(ctx context.Context, userID string) ([]string, error)
}

// Tiered caches friends, high and moderate lists per user and raw pair scores.
type Tiered struct {
	kv      kv.Store
	store   SimilarityStore
	friends FriendSource
	logger  logger.Logger

	friendsTTL time.Duration
	listTTL    time.Duration
	pairTTL    time.Duration
}

// New creates a tiered cache over store and friends, backed by kvs.
func New(kvs kv.Store, store SimilarityStore, friends FriendSource, opts ...Option) *Tiered {
	c := &Tiered{
		kv:         kvs,
		store:      store,
		friends:    friends,
		friendsTTL: DefaultFriendsTTL,
		listTTL:    DefaultListTTL,
		pairTTL:    DefaultPairTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("cache")
	}
	return c
}

// FriendsKey is the key of u's pinned friends list.
func FriendsKey(u string) string { return Namespace + tierFriends + ":" + u }

// HighKey is the key of u's high similarity list.
func HighKey(u string) string { return Namespace + tierHigh + ":" + u }

// ModerateKey is the key of u's moderate similarity list.
func ModerateKey(u string) string { return Namespace + tierModerate + ":" + u }

// PairKey is the key of the raw score of a pair in one category.
func PairKey(a, b string, c model.Category) string {
	low, high := model.Canonical(a, b)
	return Namespace + tierPair + ":" + low + ":" + high + ":" + string(c)
}

// Friends returns the ids u has pinned.
func (c *Tiered) Friends(ctx context.Context, u string) ([]string, error) {
	var ids []string
	if c.lookup(ctx, tierFriends, FriendsKey(u), &ids) {
		return ids, nil
	}
	ids, err := c.friends.PinnedFriends(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("load friends of %s: %w", u, err)
	}
	c.fill(ctx, FriendsKey(u), ids, c.friendsTTL)
	return ids, nil
}

// HighSimilarity returns u's scores at or above the high threshold, best first.
func (c *Tiered) HighSimilarity(ctx context.Context, u string) ([]model.UserScore, error) {
	return c.list(ctx, tierHigh, HighKey(u), u, func(s float64) bool {
		return s >= scoring.HighThreshold
	})
}

// ModerateSimilarity returns u's scores in [moderate, high), best first.
func (c *Tiered) ModerateSimilarity(ctx context.Context, u string) ([]model.UserScore, error) {
	return c.list(ctx, tierModerate, ModerateKey(u), u, func(s float64) bool {
		return s >= scoring.ModerateThreshold && s < scoring.HighThreshold
	})
}

func (c *Tiered) list(ctx context.Context, tier, key, u string, keep func(float64) bool) ([]model.UserScore, error) {
	var scores []model.UserScore
	if c.lookup(ctx, tier, key, &scores) {
		return scores, nil
	}
	all, err := c.store.ScoresForUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("load %s list of %s: %w", tier, u, err)
	}
	scores = make([]model.UserScore, 0, len(all))
	for _, s := range all {
		if keep(s.Score) {
			scores = append(scores, s)
		}
	}
	c.fill(ctx, key, scores, c.listTTL)
	return scores, nil
}

// PairScore returns the pair's score in category cat, or nil when no row exists.
// Absent rows are not cached.
func (c *Tiered) PairScore(ctx context.Context, a, b string, cat model.Category) (*model.PairScore, error) {
	key := PairKey(a, b, cat)
	var ps model.PairScore
	if c.lookup(ctx, tierPair, key, &ps) {
		return &ps, nil
	}
	low, high := model.Canonical(a, b)
	row, err := c.store.GetSimilarity(ctx, low, high, cat)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pair %s: %w", key, err)
	}
	ps = model.PairScore{Score: row.Score, OverlapCount: row.OverlapCount}
	c.fill(ctx, key, ps, c.pairTTL)
	return &ps, nil
}

// AllScoresForUser reads every score of u straight from the store.
func (c *Tiered) AllScoresForUser(ctx context.Context, u string) ([]model.UserScore, error) {
	scores, err := c.store.ScoresForUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("load scores of %s: %w", u, err)
	}
	return scores, nil
}

// SetPairScore writes through a freshly computed pair score.
func (c *Tiered) SetPairScore(ctx context.Context, a, b string, cat model.Category, ps model.PairScore) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("encode pair score: %w", err)
	}
	if err := c.kv.Set(ctx, PairKey(a, b, cat), data, c.pairTTL); err != nil {
		metrics.RecordCacheError("set")
		return err
	}
	return nil
}

// DropPair removes a pair's cached score.
func (c *Tiered) DropPair(ctx context.Context, a, b string, cat model.Category) error {
	return c.drop(ctx, PairKey(a, b, cat))
}

// DropLists removes the high and moderate lists of the given users.
func (c *Tiered) DropLists(ctx context.Context, users ...string) error {
	keys := make([]string, 0, 2*len(users))
	for _, u := range users {
		keys = append(keys, HighKey(u), ModerateKey(u))
	}
	return c.drop(ctx, keys...)
}

// InvalidateUser removes the three per-user list keys of u.
func (c *Tiered) InvalidateUser(ctx context.Context, u string) error {
	return c.drop(ctx, FriendsKey(u), HighKey(u), ModerateKey(u))
}

// Flush removes every key in the namespace and returns how many.
func (c *Tiered) Flush(ctx context.Context) (int, error) {
	n, err := c.kv.DeletePrefix(ctx, Namespace)
	if err != nil {
		metrics.RecordCacheError("flush")
		return n, fmt.Errorf("flush %s: %w", Namespace, err)
	}
	return n, nil
}

func (c *Tiered) drop(ctx context.Context, keys ...string) error {
	if err := c.kv.Delete(ctx, keys...); err != nil {
		metrics.RecordCacheError("delete")
		return err
	}
	return nil
}

// lookup decodes key into dst and reports a hit. KV and decode failures are
// logged and treated as a miss.
func (c *Tiered) lookup(ctx context.Context, tier, key string, dst any) bool {
	data, err := c.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		metrics.RecordCacheMiss(tier)
		return false
	}
	if err != nil {
		metrics.RecordCacheError("get")
		c.logger.Warn(ctx, "cache read failed, falling back to store", logger.String("key", key), logger.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.RecordCacheError("decode")
		c.logger.Warn(ctx, "cache entry undecodable, rebuilding", logger.String("key", key), logger.Error(err))
		return false
	}
	metrics.RecordCacheHit(tier)
	return true
}

func (c *Tiered) fill(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, key, data, ttl); err != nil {
		metrics.RecordCacheError("set")
		c.logger.Warn(ctx, "cache fill failed", logger.String("key", key), logger.Error(err))
	}
}
