package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

// Orchestrator recomputes and persists one pair at a time.
type Orchestrator struct {
	items  ItemSource
	store  SimilarityStore
	cache  Cache
	scorer *scoring.Scorer
	now    func() time.Time
	logger logger.Logger
}

// RecomputePair rescores a and b in category c and writes the result to the
// canonical row. With too little overlap the row is deleted and nil returned.
// Calling it with the pair in either order touches the same row.
func (o *Orchestrator) RecomputePair(ctx context.Context, a, b string, c model.Category) (*model.TasteSimilarity, error) {
	if err := validatePair(a, b, c); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordRecomputeLatency(float64(time.Since(start).Milliseconds()))
	}()

	low, high := model.Canonical(a, b)
	lowItems, err := o.items.RatedItems(ctx, low, c)
	if err != nil {
		metrics.RecordRecompute(string(c), metrics.OutcomeError)
		return nil, fmt.Errorf("items of %s: %w", low, err)
	}
	highItems, err := o.items.RatedItems(ctx, high, c)
	if err != nil {
		metrics.RecordRecompute(string(c), metrics.OutcomeError)
		return nil, fmt.Errorf("items of %s: %w", high, err)
	}

	now := o.now().UTC()
	res := o.scorer.Score(lowItems, highItems, now)

	if !o.scorer.Sufficient(res) {
		existed, err := o.store.DeleteSimilarity(ctx, low, high, c)
		if err != nil {
			metrics.RecordRecompute(string(c), metrics.OutcomeError)
			return nil, fmt.Errorf("delete %s/%s/%s: %w", low, high, c, err)
		}
		if !existed {
			metrics.RecordRecompute(string(c), metrics.OutcomeSkipped)
			return nil, nil
		}
		metrics.RecordRecompute(string(c), metrics.OutcomeDeleted)
		o.afterWrite(ctx, low, high, c, nil)
		return nil, nil
	}

	row := model.TasteSimilarity{
		UserLow:        low,
		UserHigh:       high,
		Category:       c,
		Score:          res.Score,
		OverlapCount:   res.OverlapCount,
		LastComputedAt: now,
	}
	if err := o.store.UpsertSimilarity(ctx, row); err != nil {
		metrics.RecordRecompute(string(c), metrics.OutcomeError)
		return nil, fmt.Errorf("upsert %s/%s/%s: %w", low, high, c, err)
	}
	metrics.RecordRecompute(string(c), metrics.OutcomeUpserted)
	o.afterWrite(ctx, low, high, c, &model.PairScore{Score: row.Score, OverlapCount: row.OverlapCount})
	return &row, nil
}

// afterWrite refreshes the pair key and drops both users' tier lists.
// Failures only widen the staleness window, so they are logged.
func (o *Orchestrator) afterWrite(ctx context.Context, low, high string, c model.Category, ps *model.PairScore) {
	var err error
	if ps != nil {
		err = o.cache.SetPairScore(ctx, low, high, c, *ps)
	} else {
		err = o.cache.DropPair(ctx, low, high, c)
	}
	if err != nil {
		o.logger.Warn(ctx, "pair cache refresh failed",
			logger.String("user_low", low), logger.String("user_high", high),
			logger.String("category", string(c)), logger.Error(err))
	}
	if err := o.cache.DropLists(ctx, low, high); err != nil {
		o.logger.Warn(ctx, "tier list invalidation failed",
			logger.String("user_low", low), logger.String("user_high", high), logger.Error(err))
	}
}

func validatePair(a, b string, c model.Category) error {
	if a == "" || b == "" {
		return ErrInvalidUser
	}
	if a == b {
		return ErrSelfPair
	}
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return nil
}
