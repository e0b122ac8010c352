package service

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
	"github.com/okian/palate/pkg/metrics"
)

const itemSourceBreaker = "item-source"

// BreakerSettings tunes the item source circuit breaker.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// DefaultBreakerSettings opens at a 60% failure rate over at least 10 calls.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MinRequests: 10, FailureRatio: 0.6, OpenTimeout: 30 * time.Second}
}

// breakerItems guards an ItemSource so a failing journal store is not
// hammered by every queued recompute.
type breakerItems struct {
	next ItemSource
	cb   *gobreaker.CircuitBreaker[[]model.RatedItem]
}

func newBreakerItems(next ItemSource, s BreakerSettings, log logger.Logger) *breakerItems {
	metrics.UpdateBreakerState(itemSourceBreaker, stateToFloat(gobreaker.StateClosed))
	cb := gobreaker.NewCircuitBreaker[[]model.RatedItem](gobreaker.Settings{
		Name:        itemSourceBreaker,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.UpdateBreakerState(name, stateToFloat(to))
		},
		// a caller giving up is not a fault of the source
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &breakerItems{next: next, cb: cb}
}

func (b *breakerItems) RatedItems(ctx context.Context, userID string, c model.Category) ([]model.RatedItem, error) {
	return b.cb.Execute(func() ([]model.RatedItem, error) {
		return b.next.RatedItems(ctx, userID, c)
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
