// Package seed generates synthetic tasting journals and drives a running
// engine with them: it loads users and notes into the journal store, posts
// reaction signals, triggers a batch and checks the discovery answers.
package seed

import "time"

// Config holds configuration for a seeding run.
type Config struct {
	DBPath       string        // journal database to load; empty skips loading
	BaseURL      string        // running service; empty skips the HTTP phase
	Users        int           // synthetic users
	Archetypes   int           // taste groups users are drawn from
	PoolSize     int           // distinct items per category
	NotesPerUser int           // notes per user per category
	Signals      int           // reaction signals to post
	Seed         int64         // generator seed; equal seeds give equal datasets
	Workers      int           // concurrent HTTP workers
	Timeout      time.Duration // HTTP request timeout
	Verbose      bool
}

// Defaults fills zero fields.
func (c *Config) Defaults() {
	if c.Users <= 0 {
		c.Users = 200
	}
	if c.Archetypes <= 0 {
		c.Archetypes = 4
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 40
	}
	if c.NotesPerUser <= 0 {
		c.NotesPerUser = 15
	}
	c.NotesPerUser = min(c.NotesPerUser, c.PoolSize)
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Stats summarizes a run.
type Stats struct {
	Users            int
	Notes            int
	Pins             int
	SignalsSubmitted int
	SignalsAccepted  int
	SignalsCoalesced int
	SignalsIgnored   int
	SignalsDropped   int
	SignalsFailed    int
	BatchRecomputed  int
	UsersVerified    int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
