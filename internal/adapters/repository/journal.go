package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/okian/palate/internal/domain/matchkey"
	"github.com/okian/palate/internal/domain/model"
)

const visibilityPublic = "public"

// InsertNote writes a journal note. The engine never writes notes in
// production; seeding and tests do.
func (s *Store) InsertNote(ctx context.Context, n model.Note) error {
	ext, err := json.Marshal(n.Extension)
	if err != nil {
		return fmt.Errorf("encode extension: %w", err)
	}
	visibility := "private"
	if n.Public {
		visibility = visibilityPublic
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, author_id, type, venue_id, extension, rating, experienced_at, visibility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			author_id = excluded.author_id,
			type = excluded.type,
			venue_id = excluded.venue_id,
			extension = excluded.extension,
			rating = excluded.rating,
			experienced_at = excluded.experienced_at,
			visibility = excluded.visibility`,
		n.ID, n.AuthorID, string(n.Type), n.VenueID, string(ext), n.Rating, toMillis(n.ExperiencedAt), visibility)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// DeleteNote removes a journal note.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

const ratedItemColumns = `SELECT author_id, type, venue_id, extension, rating, experienced_at FROM notes
	WHERE type = ? AND visibility = 'public' AND rating BETWEEN 1 AND 10`

// RatedItems returns the user's public rated items in category c, oldest first.
// Notes without a derivable match key are skipped.
func (s *Store) RatedItems(ctx context.Context, userID string, c model.Category) ([]model.RatedItem, error) {
	var items []model.RatedItem
	err := s.scanItems(ctx, ratedItemColumns+" AND author_id = ? ORDER BY experienced_at, id", func(it model.RatedItem) error {
		items = append(items, it)
		return nil
	}, string(c), userID)
	if err != nil {
		return nil, fmt.Errorf("rated items: %w", err)
	}
	return items, nil
}

// PublicItems streams every public rated item in category c to fn.
// fn must not call back into the store.
func (s *Store) PublicItems(ctx context.Context, c model.Category, fn func(model.RatedItem) error) error {
	if err := s.scanItems(ctx, ratedItemColumns+" ORDER BY author_id, experienced_at, id", fn, string(c)); err != nil {
		return fmt.Errorf("public items: %w", err)
	}
	return nil
}

func (s *Store) scanItems(ctx context.Context, query string, fn func(model.RatedItem) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			n      model.Note
			typ    string
			ext    string
			millis int64
		)
		if err := rows.Scan(&n.AuthorID, &typ, &n.VenueID, &ext, &n.Rating, &millis); err != nil {
			return err
		}
		n.Type = model.NoteType(typ)
		n.Extension = decodeExtension(ext)
		c, key, ok := matchkey.ForNote(n)
		if !ok {
			continue
		}
		if err := fn(model.RatedItem{
			OwnerID:       n.AuthorID,
			Category:      c,
			MatchKey:      key,
			Rating:        n.Rating,
			ExperiencedAt: fromMillis(millis),
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

// decodeExtension returns nil for malformed JSON; such notes have no key.
func decodeExtension(raw string) map[string]any {
	var ext map[string]any
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return nil
	}
	return ext
}

// AddPin records that userID pinned friendID.
func (s *Store) AddPin(ctx context.Context, userID, friendID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO friend_pins (user_id, friend_id, created_at) VALUES (?, ?, ?)",
		userID, friendID, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("add pin: %w", err)
	}
	return nil
}

// PinnedFriends returns the ids userID has pinned, oldest pin first.
func (s *Store) PinnedFriends(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT friend_id FROM friend_pins WHERE user_id = ? ORDER BY created_at, friend_id", userID)
	if err != nil {
		return nil, fmt.Errorf("pinned friends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	friends := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		friends = append(friends, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pinned friends: %w", err)
	}
	return friends, nil
}

// UpsertUser writes a user profile.
func (s *Store) UpsertUser(ctx context.Context, p model.Profile, public bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, avatar_url, bio, is_public) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			bio = excluded.bio,
			is_public = excluded.is_public`,
		p.UserID, p.DisplayName, p.AvatarURL, p.Bio, public)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// Profiles returns the public profiles among ids. Private or unknown users are absent.
func (s *Store) Profiles(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	out := make(map[string]model.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT id, display_name, avatar_url, bio FROM users WHERE is_public = 1 AND id IN (?" +
		strings.Repeat(", ?", len(ids)-1) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &p.Bio); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	return out, nil
}
