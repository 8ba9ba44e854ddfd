// Package download fetches candidate image bytes with size and content
// type enforcement. Undersized bodies are usually tracking pixels or
// retailer placeholder images; oversized ones are print assets we never
// want to hold in memory.
package download

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Client downloads images within configured size bounds. Requests to the
// same host are rate limited so a batch cannot hammer one retailer CDN.
type Client struct {
	http      *http.Client
	maxBytes  int64
	minBytes  int
	userAgent string
	retry     resilience.RetryConfig

	hostRPS  float64
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures the download client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a download client from images config.
func New(cfg config.ImagesConfig, opts ...Option) *Client {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1024
	}

	hostRPS := cfg.HostRPS
	if hostRPS <= 0 {
		hostRPS = 4
	}

	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		maxBytes:  maxBytes,
		minBytes:  minBytes,
		userAgent: defaultUserAgent,
		retry:     resilience.DefaultRetryConfig(),
		hostRPS:   hostRPS,
		limiters:  map[string]*rate.Limiter{},
	}
	c.retry.OnRetry = resilience.RetryLogger("download", "image")
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch downloads the image at url. It rejects non-image content types,
// bodies over the max size, and bodies under the min size.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.fetchOnce(ctx, url)
	})
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.hostRPS), 1)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiterFor(url).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "download: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "download: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "download: get %s", url)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("download: status %d for %s", resp.StatusCode, url)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(err, "image unavailable")
	}

	ct := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, resilience.NewPermanentError(
			eris.Errorf("download: content type %q is not an image", ct), "not an image")
	}

	// Read one byte past the cap to tell "exactly max" from "over max".
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "download: read body")
	}
	if int64(len(data)) > c.maxBytes {
		return nil, resilience.NewPermanentError(
			eris.Errorf("download: body exceeds %d bytes", c.maxBytes), "image too large")
	}
	if len(data) < c.minBytes {
		return nil, resilience.NewPermanentError(
			eris.Errorf("download: body %d bytes, under minimum %d", len(data), c.minBytes), "image too small")
	}

	return data, nil
}
