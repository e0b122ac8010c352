package seed

import (
	"context"
	"fmt"

	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
)

// Sink is where a dataset is written; the journal repository satisfies it.
type Sink interface {
	UpsertUser(ctx context.Context, p model.Profile, public bool) error
	InsertNote(ctx context.Context, n model.Note) error
	AddPin(ctx context.Context, userID, friendID string) error
}

// Load writes ds into sink and records the counts in stats.
func Load(ctx context.Context, sink Sink, ds Dataset, stats *Stats) error {
	for _, u := range ds.Users {
		if err := sink.UpsertUser(ctx, u.Profile, u.Public); err != nil {
			return fmt.Errorf("load user %s: %w", u.Profile.UserID, err)
		}
	}
	for _, n := range ds.Notes {
		if err := sink.InsertNote(ctx, n); err != nil {
			return fmt.Errorf("load note %s: %w", n.ID, err)
		}
	}
	for _, p := range ds.Pins {
		if err := sink.AddPin(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("load pin %s->%s: %w", p[0], p[1], err)
		}
	}
	stats.Users, stats.Notes, stats.Pins = len(ds.Users), len(ds.Notes), len(ds.Pins)
	logger.Get().Info(ctx, "dataset loaded",
		logger.Int("users", stats.Users),
		logger.Int("notes", stats.Notes),
		logger.Int("pins", stats.Pins))
	return nil
}
