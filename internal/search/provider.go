package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/resilience"
)

// Provider performs image searches against an external search API.
type Provider interface {
	SearchImages(ctx context.Context, query string) ([]model.SearchCandidate, error)
}

// Option configures the provider client.
type Option func(*serpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *serpClient) { c.http = hc }
}

// WithLimiter overrides the default request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *serpClient) { c.limiter = l }
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *serpClient) { c.retry = cfg }
}

type serpClient struct {
	apiKey   string
	baseURL  string
	country  string
	language string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewProvider creates a SerpAPI-style google_images client.
func NewProvider(cfg config.SearchConfig, opts ...Option) Provider {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}

	c := &serpClient{
		apiKey:   cfg.Key,
		baseURL:  cfg.BaseURL,
		country:  cfg.Country,
		language: cfg.Language,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		retry:    resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("search", "images")
	for _, o := range opts {
		o(c)
	}
	return c
}

type serpImageResult struct {
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Original  string `json:"original"`
	Thumbnail string `json:"thumbnail"`
	Source    string `json:"source"`
	Link      string `json:"link"`
	Width     int    `json:"original_width"`
	Height    int    `json:"original_height"`
}

type serpResponse struct {
	ImagesResults []serpImageResult `json:"images_results"`
}

func (c *serpClient) SearchImages(ctx context.Context, query string) ([]model.SearchCandidate, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]model.SearchCandidate, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "search: rate limiter wait")
		}
		return c.searchOnce(ctx, query)
	})
}

func (c *serpClient) searchOnce(ctx context.Context, query string) ([]model.SearchCandidate, error) {
	params := url.Values{}
	params.Set("engine", "google_images")
	params.Set("q", query)
	params.Set("gl", c.country)
	params.Set("hl", c.language)
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "search: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "search: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "search: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("search: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(err, "search request rejected")
	}

	var result serpResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "search: unmarshal response"), "bad provider payload")
	}

	candidates := make([]model.SearchCandidate, 0, len(result.ImagesResults))
	for _, r := range result.ImagesResults {
		if r.Original == "" {
			continue
		}
		source := r.Source
		if source == "" {
			source = hostOf(r.Link)
		}
		candidates = append(candidates, model.SearchCandidate{
			Title:        r.Title,
			Snippet:      r.Snippet,
			ImageURL:     r.Original,
			ThumbnailURL: r.Thumbnail,
			Source:       source,
			Width:        r.Width,
			Height:       r.Height,
		})
	}
	return candidates, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
