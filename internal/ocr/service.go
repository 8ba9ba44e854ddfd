package ocr

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

// HTTPExtractor extracts text through an OCR sidecar service.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPExtractor creates an HTTPExtractor for the configured sidecar.
func NewHTTPExtractor(cfg config.OCRConfig) *HTTPExtractor {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

type extractRequest struct {
	Image string `json:"image"`
}

type extractResponse struct {
	Text string `json:"text"`
}

// ExtractText sends the image to the sidecar and returns the recognized text.
func (h *HTTPExtractor) ExtractText(ctx context.Context, image []byte) (string, error) {
	return resilience.ExecuteVal(ctx, h.breaker, func(ctx context.Context) (string, error) {
		return h.extractOnce(ctx, image)
	})
}

func (h *HTTPExtractor) extractOnce(ctx context.Context, image []byte) (string, error) {
	payload, err := json.Marshal(extractRequest{
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/ocr", bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "ocr: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ocr: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ocr: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	var result extractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "ocr: unmarshal response")
	}
	return result.Text, nil
}
