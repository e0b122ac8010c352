package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
)

// Paging bounds for SimilarUsers.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Query selects a page of similar users.
type Query struct {
	UserID   string
	Category model.Category // empty means every category
	Offset   int
	Limit    int
}

// Candidate is one similar user with their best category.
type Candidate struct {
	UserID       string         `json:"user_id"`
	Category     model.Category `json:"category"`
	Score        float64        `json:"score"`
	OverlapCount int            `json:"overlap_count"`
	Tier         model.Tier     `json:"tier"`
	DisplayName  string         `json:"display_name"`
	AvatarURL    string         `json:"avatar_url"`
	Bio          string         `json:"bio"`
}

// Page is a slice of candidates plus the unpaginated total.
type Page struct {
	Candidates []Candidate `json:"candidates"`
	Total      int         `json:"total"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
}

// Discovery answers "who tastes like me" queries.
type Discovery struct {
	cache    Cache
	profiles ProfileSource
}

// SimilarUsers ranks the users q.UserID has a score with, best first.
func (d *Discovery) SimilarUsers(ctx context.Context, q Query) (Page, error) {
	if q.UserID == "" {
		return Page{}, ErrInvalidUser
	}
	if q.Category != "" && !q.Category.Valid() {
		return Page{}, fmt.Errorf("%w: %q", ErrUnknownCategory, q.Category)
	}
	q.Offset = max(q.Offset, 0)
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	scores, err := d.cache.AllScoresForUser(ctx, q.UserID)
	if err != nil {
		return Page{}, err
	}
	best := bestPerUser(scores, q.Category)

	page := Page{Total: len(best), Offset: q.Offset, Limit: q.Limit, Candidates: []Candidate{}}
	if q.Offset >= len(best) {
		return page, nil
	}
	best = best[q.Offset:min(q.Offset+q.Limit, len(best))]

	friends, err := d.cache.Friends(ctx, q.UserID)
	if err != nil {
		return Page{}, err
	}
	pinned := make(map[string]struct{}, len(friends))
	for _, f := range friends {
		pinned[f] = struct{}{}
	}

	ids := make([]string, len(best))
	for i, s := range best {
		ids[i] = s.OtherUserID
	}
	profiles, err := d.profiles.Profiles(ctx, ids)
	if err != nil {
		return Page{}, fmt.Errorf("join profiles: %w", err)
	}

	for _, s := range best {
		cand := Candidate{
			UserID:       s.OtherUserID,
			Category:     s.Category,
			Score:        s.Score,
			OverlapCount: s.OverlapCount,
			Tier:         scoring.TierFor(s.Score),
		}
		if _, ok := pinned[s.OtherUserID]; ok {
			cand.Tier = model.TierFriend
		}
		if p, ok := profiles[s.OtherUserID]; ok {
			cand.DisplayName = p.DisplayName
			cand.AvatarURL = p.AvatarURL
			cand.Bio = p.Bio
		}
		page.Candidates = append(page.Candidates, cand)
	}
	return page, nil
}

// bestPerUser keeps each other user's single best category, optionally
// restricted to c, sorted by score desc, overlap desc, then user id.
func bestPerUser(scores []model.UserScore, c model.Category) []model.UserScore {
	byUser := make(map[string]model.UserScore, len(scores))
	for _, s := range scores {
		if c != "" && s.Category != c {
			continue
		}
		cur, ok := byUser[s.OtherUserID]
		if !ok || better(s, cur) {
			byUser[s.OtherUserID] = s
		}
	}

	out := make([]model.UserScore, 0, len(byUser))
	for _, s := range byUser {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].OverlapCount != out[j].OverlapCount {
			return out[i].OverlapCount > out[j].OverlapCount
		}
		return out[i].OtherUserID < out[j].OtherUserID
	})
	return out
}

func better(a, b model.UserScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.OverlapCount != b.OverlapCount {
		return a.OverlapCount > b.OverlapCount
	}
	return a.Category < b.Category
}

// Eligibility is the pin gate verdict for a pair.
type Eligibility struct {
	Eligible     bool           `json:"eligible"`
	Category     model.Category `json:"category,omitempty"`
	Score        float64        `json:"score"`
	OverlapCount int            `json:"overlap_count"`
}

// PinEligibility reports whether a and b clear the pin gate in any category
// and which category scores best.
func (d *Discovery) PinEligibility(ctx context.Context, a, b string) (Eligibility, error) {
	if a == "" || b == "" {
		return Eligibility{}, ErrInvalidUser
	}
	if a == b {
		return Eligibility{}, ErrSelfPair
	}

	var out Eligibility
	for _, c := range model.Categories {
		ps, err := d.cache.PairScore(ctx, a, b, c)
		if err != nil {
			return Eligibility{}, err
		}
		if ps == nil {
			continue
		}
		cand := model.UserScore{Category: c, Score: ps.Score, OverlapCount: ps.OverlapCount}
		cur := model.UserScore{Category: out.Category, Score: out.Score, OverlapCount: out.OverlapCount}
		if out.Category == "" || better(cand, cur) {
			out = Eligibility{Category: c, Score: ps.Score, OverlapCount: ps.OverlapCount}
		}
	}
	out.Eligible = scoring.PinEligible(model.PairScore{Score: out.Score, OverlapCount: out.OverlapCount})
	return out, nil
}
