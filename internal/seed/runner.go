package seed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/okian/palate/internal/adapters/repository"
	"github.com/okian/palate/pkg/logger"
)

// Runner configuration constants.
const (
	verifySample   = 20
	processingWait = 5 * time.Second
)

// Run generates a dataset, loads it when DBPath is set and, when BaseURL is
// set, drives the service with signals, a batch and a discovery check.
func Run(ctx context.Context, config *Config) error {
	config.Defaults()
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get()

	log.Info(ctx, "starting palate seed",
		logger.String("db_path", config.DBPath),
		logger.String("base_url", config.BaseURL),
		logger.Int("users", config.Users),
		logger.Int("notes_per_user", config.NotesPerUser),
		logger.Int("pool_size", config.PoolSize),
		logger.Any("seed", config.Seed))

	ds := Generate(*config, time.Now().UTC())

	if config.DBPath != "" {
		store, err := repository.Open(config.DBPath)
		if err != nil {
			return err
		}
		err = Load(ctx, store, ds, stats)
		_ = store.Close()
		if err != nil {
			return err
		}
	}

	if config.BaseURL != "" {
		if err := checkServiceHealth(ctx, config); err != nil {
			return fmt.Errorf("service health check failed: %w", err)
		}
		submitSignals(ctx, config, BuildSignals(ds, config.Signals, config.Seed), stats)

		log.Info(ctx, "waiting for queued recomputes", logger.Duration("wait", processingWait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(processingWait):
		}

		if err := runBatch(ctx, config, stats); err != nil {
			return err
		}
		if err := verifyDiscovery(ctx, config, ds, verifySample, stats); err != nil {
			return fmt.Errorf("discovery verification failed: %w", err)
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)
	return nil
}

// BuildSignals picks n reactions from random users on random public notes.
func BuildSignals(ds Dataset, n int, seed int64) []Signal {
	if len(ds.Notes) == 0 || len(ds.Users) < 2 {
		return nil
	}
	f := gofakeit.New(seed + 1)
	reactions := []string{"echo", "echo", "diverge", "bookmark"}
	out := make([]Signal, 0, n)
	for len(out) < n {
		note := ds.Notes[f.Number(0, len(ds.Notes)-1)]
		sender := ds.Users[f.Number(0, len(ds.Users)-1)].Profile.UserID
		if sender == note.AuthorID {
			continue
		}
		out = append(out, Signal{
			SenderID: sender,
			AuthorID: note.AuthorID,
			NoteType: string(note.Type),
			Reaction: f.RandomString(reactions),
		})
	}
	return out
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	code, err := newHTTPClient(config.BaseURL, config.Timeout).do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("unexpected status %d", code)
	}
	return nil
}

func displayFinalStats(stats *Stats) {
	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("users", stats.Users),
		logger.Int("notes", stats.Notes),
		logger.Int("pins", stats.Pins),
		logger.Int("signals_submitted", stats.SignalsSubmitted),
		logger.Int("signals_accepted", stats.SignalsAccepted),
		logger.Int("batch_recomputed", stats.BatchRecomputed),
		logger.Int("users_verified", stats.UsersVerified),
		logger.Duration("duration", stats.Duration))
}

