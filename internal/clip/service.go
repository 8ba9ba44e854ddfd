// Package clip talks to the external embedding service and re-ranks
// textual-scored candidates by visual similarity to the product's
// description. The signal is advisory: when the service is unreachable
// the pipeline proceeds on textual scores alone.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/resilience"
)

// Service computes similarity scores between an image and a set of
// candidate descriptions. Scores are cosine similarities in [-1, 1].
type Service interface {
	Similarity(ctx context.Context, image []byte, texts []string) ([]float64, error)
}

// Option configures the service client.
type Option func(*httpService)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *httpService) { s.http = hc }
}

type httpService struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

// NewService creates an HTTP client for the embedding sidecar.
func NewService(cfg config.ClipConfig, opts ...Option) Service {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &httpService{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type similarityRequest struct {
	Image string   `json:"image"`
	Texts []string `json:"texts"`
}

type similarityResponse struct {
	Similarities []float64 `json:"similarities"`
}

func (s *httpService) Similarity(ctx context.Context, image []byte, texts []string) ([]float64, error) {
	return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]float64, error) {
		return s.similarityOnce(ctx, image, texts)
	})
}

func (s *httpService) similarityOnce(ctx context.Context, image []byte, texts []string) ([]float64, error) {
	payload, err := json.Marshal(similarityRequest{
		Image: base64.StdEncoding.EncodeToString(image),
		Texts: texts,
	})
	if err != nil {
		return nil, eris.Wrap(err, "clip: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/similarity", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "clip: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "clip: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clip: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("clip: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result similarityResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "clip: unmarshal response")
	}
	if len(result.Similarities) != len(texts) {
		return nil, eris.Errorf("clip: got %d scores for %d texts", len(result.Similarities), len(texts))
	}
	return result.Similarities, nil
}
