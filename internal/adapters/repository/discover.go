package repository

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"

	"modernc.org/sqlite"

	"github.com/okian/palate/internal/domain/matchkey"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
)

// matchKeyFunc is the SQL name of the Go match key builder.
const matchKeyFunc = "match_key"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions exposes matchkey.Build to SQL as
// match_key(type, venue_id, extension) so bulk discovery normalizes names
// exactly like the scorer's item source does.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(matchKeyFunc, 3, sqlMatchKey)
	})
	return registerErr
}

func sqlMatchKey(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	n := model.Note{
		Type:      model.NoteType(asText(args[0])),
		VenueID:   asText(args[1]),
		Extension: decodeExtension(asText(args[2])),
	}
	_, key, ok := matchkey.ForNote(n)
	if !ok {
		return nil, nil
	}
	return key, nil
}

func asText(v driver.Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}

// SQLDiscoverer finds candidate pairs with a single aggregate query.
type SQLDiscoverer struct {
	store     *Store
	minShared int
}

// NewSQLDiscoverer creates a discoverer backed by the store's notes table.
func NewSQLDiscoverer(store *Store) *SQLDiscoverer {
	return &SQLDiscoverer{store: store, minShared: scoring.MinOverlap}
}

// Discover returns every unordered pair sharing at least MinOverlap distinct
// match keys among public notes of category c.
func (d *SQLDiscoverer) Discover(ctx context.Context, c model.Category) ([]model.Pair, error) {
	rows, err := d.store.db.QueryContext(ctx, `
		WITH keyed AS (
			SELECT DISTINCT author_id AS user_id, match_key(type, venue_id, extension) AS mk
			FROM notes
			WHERE type = ? AND visibility = 'public' AND rating BETWEEN 1 AND 10
		)
		SELECT a.user_id, b.user_id, COUNT(*) AS shared
		FROM keyed a
		JOIN keyed b ON a.mk = b.mk AND a.user_id < b.user_id
		WHERE a.mk IS NOT NULL
		GROUP BY a.user_id, b.user_id
		HAVING COUNT(*) >= ?
		ORDER BY a.user_id, b.user_id`,
		string(c), d.minShared)
	if err != nil {
		return nil, fmt.Errorf("discover pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []model.Pair
	for rows.Next() {
		var p model.Pair
		if err := rows.Scan(&p.UserLow, &p.UserHigh, &p.SharedKeys); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discover pairs: %w", err)
	}
	return pairs, nil
}

// ItemScanner streams public rated items of one category.
type ItemScanner interface {
	PublicItems(ctx context.Context, c model.Category, fn func(model.RatedItem) error) error
}

// IndexDiscoverer builds an in-memory inverted index matchKey -> users and
// counts shared keys per pair. Memory grows with the item volume of one
// category, so it suits small deployments.
type IndexDiscoverer struct {
	items     ItemScanner
	minShared int
}

// NewIndexDiscoverer creates an index discoverer over items.
func NewIndexDiscoverer(items ItemScanner) *IndexDiscoverer {
	return &IndexDiscoverer{items: items, minShared: scoring.MinOverlap}
}

// Discover returns the same pairs as SQLDiscoverer.Discover.
func (d *IndexDiscoverer) Discover(ctx context.Context, c model.Category) ([]model.Pair, error) {
	index := make(map[string]map[string]struct{})
	err := d.items.PublicItems(ctx, c, func(it model.RatedItem) error {
		users, ok := index[it.MatchKey]
		if !ok {
			users = make(map[string]struct{})
			index[it.MatchKey] = users
		}
		users[it.OwnerID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	type pairKey struct{ low, high string }
	shared := make(map[pairKey]int)
	for _, users := range index {
		if len(users) < 2 {
			continue
		}
		ids := make([]string, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				shared[pairKey{ids[i], ids[j]}]++
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	var pairs []model.Pair
	for k, n := range shared {
		if n >= d.minShared {
			pairs = append(pairs, model.Pair{UserLow: k.low, UserHigh: k.high, SharedKeys: n})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].UserLow != pairs[j].UserLow {
			return pairs[i].UserLow < pairs[j].UserLow
		}
		return pairs[i].UserHigh < pairs[j].UserHigh
	})
	return pairs, nil
}
