package seed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/okian/palate/pkg/logger"
)

// Candidate is the subset of a discovery candidate the verifier reads.
type Candidate struct {
	UserID       string  `json:"user_id"`
	Category     string  `json:"category"`
	Score        float64 `json:"score"`
	OverlapCount int     `json:"overlap_count"`
	Tier         string  `json:"tier"`
}

// Page is one page of similar users.
type Page struct {
	Candidates []Candidate `json:"candidates"`
	Total      int         `json:"total"`
}

// verifyPage checks a similar-users page for user.
func verifyPage(user string, p Page) error {
	for i, c := range p.Candidates {
		if c.UserID == user {
			return fmt.Errorf("%s listed as similar to themselves", user)
		}
		if c.Score < 0 || c.Score > 1 {
			return fmt.Errorf("%s: score %.3f out of range", c.UserID, c.Score)
		}
		if c.OverlapCount < 5 {
			return fmt.Errorf("%s: overlap %d below threshold", c.UserID, c.OverlapCount)
		}
		if i > 0 && c.Score > p.Candidates[i-1].Score {
			return fmt.Errorf("page not sorted at %d: %.3f > %.3f", i, c.Score, p.Candidates[i-1].Score)
		}
	}
	if len(p.Candidates) > p.Total {
		return fmt.Errorf("page holds %d candidates but total is %d", len(p.Candidates), p.Total)
	}
	return nil
}

// archetypeHitRate is the share of candidates that share user's archetype.
func archetypeHitRate(ds Dataset, user string, p Page) float64 {
	if len(p.Candidates) == 0 {
		return 0
	}
	arch := make(map[string]int, len(ds.Users))
	for _, u := range ds.Users {
		arch[u.Profile.UserID] = u.Archetype
	}
	hits := 0
	for _, c := range p.Candidates {
		if arch[c.UserID] == arch[user] {
			hits++
		}
	}
	return float64(hits) / float64(len(p.Candidates))
}

// verifyDiscovery reads the similar users of a sample of users and checks
// every page. It returns the first inconsistency found.
func verifyDiscovery(ctx context.Context, config *Config, ds Dataset, sample int, stats *Stats) error {
	client := newHTTPClient(config.BaseURL, config.Timeout)
	log := logger.Get()

	var hitSum float64
	for i := 0; i < sample && i < len(ds.Users); i++ {
		user := ds.Users[i].Profile.UserID
		var page Page
		code, err := client.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(user)+"/similar?limit=10", nil, &page)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("similar users of %s: status %d", user, code)
		}
		if err := verifyPage(user, page); err != nil {
			return err
		}
		rate := archetypeHitRate(ds, user, page)
		hitSum += rate
		stats.UsersVerified++
		if config.Verbose {
			log.Info(ctx, "similar users",
				logger.String("user", user),
				logger.Int("total", page.Total),
				logger.Float64("archetype_hit_rate", rate))
		}
	}
	if stats.UsersVerified > 0 {
		log.Info(ctx, "discovery verified",
			logger.Int("users", stats.UsersVerified),
			logger.Float64("mean_archetype_hit_rate", hitSum/float64(stats.UsersVerified)))
	}
	return nil
}
