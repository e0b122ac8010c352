package seed

import "os"

// ShowHelp prints usage information for the seed tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`palate seed
===========

Generates synthetic tasting journals, loads them into the journal database
and optionally drives a running service with reaction signals.

Usage:
  seed [options]

Options:
  -db string         journal database to load (default "palate.db", empty skips loading)
  -url string        base URL of a running service (empty skips the HTTP phase)
  -users int         synthetic users (default 200)
  -archetypes int    taste groups (default 4)
  -pool int          distinct items per category (default 40)
  -notes int         notes per user per category (default 15)
  -signals int       reaction signals to post (default 1000)
  -seed int          generator seed (default 1)
  -workers int       concurrent HTTP workers (default 8)
  -timeout duration  HTTP request timeout (default 30s)
  -verbose           log every verified user
  -help              show this help

Examples:
  seed -db palate.db
  seed -db palate.db -url http://localhost:9080 -signals 5000
`)
}
