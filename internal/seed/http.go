package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/palate/pkg/logger"
)

// HTTPClient wraps http.Client with JSON helpers.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

// do sends body (nil for none) and decodes a JSON reply into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Signal is the body of POST /v1/signals.
type Signal struct {
	SenderID string `json:"sender_id"`
	AuthorID string `json:"author_id"`
	NoteType string `json:"note_type"`
	Reaction string `json:"reaction"`
}

// submitSignals posts signals with config.Workers workers and tallies the
// dispositions from the status codes.
func submitSignals(ctx context.Context, config *Config, signals []Signal, stats *Stats) {
	client := newHTTPClient(config.BaseURL, config.Timeout)
	log := logger.Get()

	var accepted, coalesced, ignored, dropped, failed atomic.Int64
	ch := make(chan Signal, config.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sig := range ch {
				var ack struct {
					Status string `json:"status"`
				}
				code, err := client.do(ctx, http.MethodPost, "/v1/signals", sig, &ack)
				switch {
				case err != nil:
					failed.Add(1)
					if config.Verbose {
						log.Warn(ctx, "signal failed", logger.Error(err))
					}
				case code == http.StatusAccepted && ack.Status == "coalesced":
					coalesced.Add(1)
				case code == http.StatusAccepted:
					accepted.Add(1)
				case code == http.StatusOK:
					ignored.Add(1)
				case code == http.StatusTooManyRequests:
					dropped.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, sig := range signals {
			select {
			case <-ctx.Done():
				return
			case ch <- sig:
			}
		}
	}()
	wg.Wait()

	stats.SignalsSubmitted = len(signals)
	stats.SignalsAccepted = int(accepted.Load())
	stats.SignalsCoalesced = int(coalesced.Load())
	stats.SignalsIgnored = int(ignored.Load())
	stats.SignalsDropped = int(dropped.Load())
	stats.SignalsFailed = int(failed.Load())
	log.Info(ctx, "signals submitted",
		logger.Int("accepted", stats.SignalsAccepted),
		logger.Int("coalesced", stats.SignalsCoalesced),
		logger.Int("ignored", stats.SignalsIgnored),
		logger.Int("dropped", stats.SignalsDropped),
		logger.Int("failed", stats.SignalsFailed))
}

// batchReport is the subset of the batch report the runner reads.
type batchReport struct {
	RunID      string `json:"run_id"`
	Skipped    bool   `json:"skipped"`
	Categories []struct {
		Category   string `json:"category"`
		Discovered int    `json:"discovered"`
		Recomputed int    `json:"recomputed"`
		Failed     int    `json:"failed"`
	} `json:"categories"`
}

// runBatch asks the service for an immediate batch.
func runBatch(ctx context.Context, config *Config, stats *Stats) error {
	client := newHTTPClient(config.BaseURL, config.Timeout)
	var report batchReport
	code, err := client.do(ctx, http.MethodPost, "/v1/admin/batch", nil, &report)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if code == http.StatusConflict {
		logger.Get().Warn(ctx, "batch already running elsewhere")
		return nil
	}
	if code != http.StatusOK {
		return fmt.Errorf("batch: status %d", code)
	}
	for _, c := range report.Categories {
		stats.BatchRecomputed += c.Recomputed
		logger.Get().Info(ctx, "batch category",
			logger.String("category", c.Category),
			logger.Int("discovered", c.Discovered),
			logger.Int("recomputed", c.Recomputed),
			logger.Int("failed", c.Failed))
	}
	return nil
}
