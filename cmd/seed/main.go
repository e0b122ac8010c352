package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/palate/internal/seed"
	"github.com/okian/palate/pkg/logger"
)

// Default configuration constants.
const (
	defaultUsers      = 200
	defaultSignals    = 1000
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 30 * time.Minute
)

func main() {
	var (
		dbPath     = flag.String("db", "palate.db", "Journal database to load (empty skips loading)")
		baseURL    = flag.String("url", "", "Base URL of a running service (empty skips the HTTP phase)")
		users      = flag.Int("users", defaultUsers, "Synthetic users")
		archetypes = flag.Int("archetypes", 4, "Taste groups")
		pool       = flag.Int("pool", 40, "Distinct items per category")
		notes      = flag.Int("notes", 15, "Notes per user per category")
		signals    = flag.Int("signals", defaultSignals, "Reaction signals to post")
		seedValue  = flag.Int64("seed", 1, "Generator seed")
		workers    = flag.Int("workers", 8, "Concurrent HTTP workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose    = flag.Bool("verbose", false, "Log every verified user")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		seed.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &seed.Config{
		DBPath:       *dbPath,
		BaseURL:      *baseURL,
		Users:        *users,
		Archetypes:   *archetypes,
		PoolSize:     *pool,
		NotesPerUser: *notes,
		Signals:      *signals,
		Seed:         *seedValue,
		Workers:      *workers,
		Timeout:      *timeout,
		Verbose:      *verbose,
	}
	if err := seed.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "seed failed", logger.Error(err))
		cancel()
		stop()
		os.Exit(1)
	}
}
