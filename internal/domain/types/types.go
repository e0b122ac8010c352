// Package types contains the wire shapes returned by the HTTP API.
package types

import "github.com/okian/palate/internal/domain/model"

// PairResponse is the score of one pair in one category.
type PairResponse struct {
	UserLow      string         `json:"user_low"`
	UserHigh     string         `json:"user_high"`
	Category     model.Category `json:"category"`
	Score        float64        `json:"score"`
	OverlapCount int            `json:"overlap_count"`
	Tier         model.Tier     `json:"tier"`
}

// NewPairResponse builds the canonical response for a and b.
func NewPairResponse(a, b string, c model.Category, ps model.PairScore, tier model.Tier) PairResponse {
	low, high := model.Canonical(a, b)
	return PairResponse{UserLow: low, UserHigh: high, Category: c, Score: ps.Score, OverlapCount: ps.OverlapCount, Tier: tier}
}

// ScoresResponse lists every similarity row of one user.
type ScoresResponse struct {
	UserID string            `json:"user_id"`
	Scores []model.UserScore `json:"scores"`
}

// TiersResponse holds a user's cached high and moderate lists.
type TiersResponse struct {
	UserID   string            `json:"user_id"`
	High     []model.UserScore `json:"high"`
	Moderate []model.UserScore `json:"moderate"`
}

// AckResponse acknowledges an asynchronous request.
type AckResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
