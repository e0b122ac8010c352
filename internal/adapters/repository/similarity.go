package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
)

// UpsertSimilarity creates or replaces the row for (UserLow, UserHigh, Category).
func (s *Store) UpsertSimilarity(ctx context.Context, row model.TasteSimilarity) error {
	if row.UserLow >= row.UserHigh {
		return fmt.Errorf("%w: %q must sort before %q", ErrInvalidPair, row.UserLow, row.UserHigh)
	}
	if row.OverlapCount < scoring.MinOverlap || row.Score < 0 || row.Score > 1 {
		return fmt.Errorf("%w: score=%v overlap=%d", ErrInvalidRow, row.Score, row.OverlapCount)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taste_similarity (user_low, user_high, category, score, overlap_count, last_computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_low, user_high, category) DO UPDATE SET
			score = excluded.score,
			overlap_count = excluded.overlap_count,
			last_computed_at = excluded.last_computed_at`,
		row.UserLow, row.UserHigh, string(row.Category), row.Score, row.OverlapCount, toMillis(row.LastComputedAt))
	if err != nil {
		return fmt.Errorf("upsert similarity: %w", err)
	}
	return nil
}

// DeleteSimilarity removes the row for the canonical pair, reporting whether one existed.
func (s *Store) DeleteSimilarity(ctx context.Context, low, high string, c model.Category) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM taste_similarity WHERE user_low = ? AND user_high = ? AND category = ?",
		low, high, string(c))
	if err != nil {
		return false, fmt.Errorf("delete similarity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete similarity: %w", err)
	}
	return n > 0, nil
}

// GetSimilarity returns the row for the canonical pair or ErrNotFound.
func (s *Store) GetSimilarity(ctx context.Context, low, high string, c model.Category) (*model.TasteSimilarity, error) {
	row := model.TasteSimilarity{UserLow: low, UserHigh: high, Category: c}
	var computed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT score, overlap_count, last_computed_at FROM taste_similarity
		WHERE user_low = ? AND user_high = ? AND category = ?`,
		low, high, string(c)).Scan(&row.Score, &row.OverlapCount, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get similarity: %w", err)
	}
	row.LastComputedAt = fromMillis(computed)
	return &row, nil
}

// ScoresForUser returns every row the user takes part in, seen from the user's side.
func (s *Store) ScoresForUser(ctx context.Context, userID string) ([]model.UserScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_high, category, score, overlap_count FROM taste_similarity WHERE user_low = ?
		UNION ALL
		SELECT user_low, category, score, overlap_count FROM taste_similarity WHERE user_high = ?
		ORDER BY 3 DESC, 4 DESC, 1, 2`,
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("scores for user: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.UserScore
	for rows.Next() {
		var us model.UserScore
		var cat string
		if err := rows.Scan(&us.OtherUserID, &cat, &us.Score, &us.OverlapCount); err != nil {
			return nil, fmt.Errorf("scan user score: %w", err)
		}
		us.Category = model.Category(cat)
		out = append(out, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scores for user: %w", err)
	}
	return out, nil
}

// CountSimilarities returns the number of stored rows.
func (s *Store) CountSimilarities(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM taste_similarity").Scan(&n); err != nil {
		return 0, fmt.Errorf("count similarities: %w", err)
	}
	return n, nil
}
