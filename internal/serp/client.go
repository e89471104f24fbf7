// Package serp implements the search provider client backed by the Serper.dev API.
package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

const (
	// DefaultBaseURL is the Serper search endpoint.
	DefaultBaseURL = "https://google.serper.dev/search"
	// MaxPages caps how deep FetchAllPages paginates.
	MaxPages = 5

	defaultTimeout = 15 * time.Second
)

// Config controls the provider client.
type Config struct {
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	MaxPages       int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Pacer delays outbound requests; see internal/policy/ratelimit.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client issues paginated queries against the search API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pacer      Pacer
	retry      retryPolicy
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (primarily for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPacer installs a request pacer.
func WithPacer(p Pacer) Option {
	return func(c *Client) {
		c.pacer = p
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client. Missing credentials are reported per request, not here.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPages <= 0 || cfg.MaxPages > MaxPages {
		cfg.MaxPages = MaxPages
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.RetryBaseDelay),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query string `json:"q"`
	Gl    string `json:"gl"`
	Num   int    `json:"num"`
	Start int    `json:"start"`
}

type searchResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// FetchResultsPage returns one page of organic results. Positions are absolute:
// page 2 starts at position 11.
func (c *Client) FetchResultsPage(
	ctx context.Context,
	query, regionCode string,
	page int,
) ([]tracker.SearchResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, &ConfigurationError{Err: ErrMissingAPIKey}
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * tracker.PageSize

	var (
		results []tracker.SearchResult
		err     error
	)
	for attempt := 1; ; attempt++ {
		results, err = c.doRequest(ctx, query, regionCode, start)
		if !c.retry.shouldRetry(err, attempt) {
			break
		}
		wait := c.retry.backoff(attempt)
		c.logger.Warn("provider request failed, retrying",
			zap.String("query", query),
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
			return nil, fmt.Errorf("retry wait: %w", sleepErr)
		}
	}
	return results, err
}

func (c *Client) doRequest(ctx context.Context, query, regionCode string, start int) ([]tracker.SearchResult, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, c.cfg.BaseURL); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(searchRequest{
		Query: query,
		Gl:    strings.ToLower(regionCode),
		Num:   tracker.PageSize,
		Start: start,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest(0)
		return nil, fmt.Errorf("serper request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	metrics.ObserveProviderRequest(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	results := make([]tracker.SearchResult, 0, len(payload.Organic))
	for i, item := range payload.Organic {
		results = append(results, tracker.SearchResult{
			Title:    item.Title,
			Link:     item.Link,
			Snippet:  item.Snippet,
			Position: start + i + 1,
		})
	}
	return results, nil
}

// FetchAllPages fetches pages sequentially until a short page, the page cap,
// or a failure. On failure the results gathered so far are returned together
// with an error naming the failed page.
func (c *Client) FetchAllPages(ctx context.Context, query, regionCode string) ([]tracker.SearchResult, error) {
	var all []tracker.SearchResult
	for page := 1; page <= c.cfg.MaxPages; page++ {
		results, err := c.FetchResultsPage(ctx, query, regionCode, page)
		if err != nil {
			c.logger.Error("fetch page failed",
				zap.String("query", query),
				zap.Int("page", page),
				zap.Int("partial_results", len(all)),
				zap.Error(err),
			)
			return all, fmt.Errorf("failed at page %d: %w", page, err)
		}
		all = append(all, results...)
		if len(results) < tracker.PageSize {
			break
		}
	}
	return all, nil
}
