// Package scoring computes the taste similarity of two users in one category.
//
// The score is a recency-weighted mean of per-item agreement over the items
// both users rated. It is a pure function of its inputs.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/okian/palate/internal/domain/model"
)

// Scoring policy.
const (
	// MinOverlap is the smallest shared item count that yields a score.
	MinOverlap = 5
	// HalfLifeDays is the decay half-life of an overlap's weight.
	HalfLifeDays = 180
	// HighThreshold is the lower bound of the high tier and the pin gate.
	HighThreshold = 0.7
	// ModerateThreshold is the lower bound of the moderate tier.
	ModerateThreshold = 0.5
)

// ratingSpan is the largest possible rating difference.
const ratingSpan = model.MaxRating - model.MinRating

// Option applies a configuration option to a Scorer.
type Option func(*Scorer)

// WithMinOverlap raises the minimum overlap. Values below MinOverlap are
// ignored because a persisted row never holds fewer than MinOverlap items.
func WithMinOverlap(n int) Option {
	return func(s *Scorer) {
		if n >= MinOverlap {
			s.minOverlap = n
		}
	}
}

// WithHalfLife overrides the decay half-life in days.
func WithHalfLife(days float64) Option {
	return func(s *Scorer) {
		if days > 0 {
			s.halfLifeDays = days
		}
	}
}

// Result is the outcome of scoring one pair.
type Result struct {
	Score        float64
	OverlapCount int
}

// Scorer holds the decay and overlap policy.
type Scorer struct {
	minOverlap   int
	halfLifeDays float64
}

// New creates a Scorer with the default policy.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		minOverlap:   MinOverlap,
		halfLifeDays: HalfLifeDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultScorer = New()

// Sufficient reports whether r met this scorer's minimum overlap and may be
// persisted.
func (s *Scorer) Sufficient(r Result) bool { return r.OverlapCount >= s.minOverlap }

// Sufficient reports whether r meets the default minimum overlap.
func Sufficient(r Result) bool { return defaultScorer.Sufficient(r) }

// Score scores a and b with the default policy.
func Score(a, b []model.RatedItem, now time.Time) Result {
	return defaultScorer.Score(a, b, now)
}

// Score computes the decayed similarity of a and b as of now.
//
// Each side is indexed by match key and a later duplicate replaces an earlier
// one. Shared keys are visited in sorted order so Score(a, b) and Score(b, a)
// sum identical terms in identical order.
func (s *Scorer) Score(a, b []model.RatedItem, now time.Time) Result {
	left := index(a)
	right := index(b)

	shared := make([]string, 0, min(len(left), len(right)))
	for key := range left {
		if _, ok := right[key]; ok {
			shared = append(shared, key)
		}
	}
	sort.Strings(shared)

	decay := math.Ln2 / s.halfLifeDays
	var weightedSum, totalWeight float64
	for _, key := range shared {
		ia, ib := left[key], right[key]
		similarity := 1 - math.Abs(ia.Rating-ib.Rating)/ratingSpan

		latest := ia.ExperiencedAt
		if ib.ExperiencedAt.After(latest) {
			latest = ib.ExperiencedAt
		}
		weight := math.Exp(-decay * daysSince(latest, now))

		weightedSum += similarity * weight
		totalWeight += weight
	}

	res := Result{OverlapCount: len(shared)}
	if res.OverlapCount < s.minOverlap || totalWeight == 0 {
		return res
	}
	res.Score = round3(weightedSum / totalWeight)
	return res
}

func index(items []model.RatedItem) map[string]model.RatedItem {
	m := make(map[string]model.RatedItem, len(items))
	for _, it := range items {
		m[it.MatchKey] = it
	}
	return m
}

// daysSince returns fractional days from t to now; future times count as 0.
func daysSince(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// TierFor buckets a score into a discovery tier.
func TierFor(score float64) model.Tier {
	switch {
	case score >= HighThreshold:
		return model.TierHigh
	case score >= ModerateThreshold:
		return model.TierModerate
	}
	return model.TierGeneral
}

// PinEligible reports whether a pair score clears the pin gate.
func PinEligible(ps model.PairScore) bool {
	return ps.Score >= HighThreshold && ps.OverlapCount >= MinOverlap
}
