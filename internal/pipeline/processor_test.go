package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/decision"
	"github.com/shelfline/curator-cli/internal/download"
	"github.com/shelfline/curator-cli/internal/imaging"
	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/resilience"
	"github.com/shelfline/curator-cli/internal/scorer"
	"github.com/shelfline/curator-cli/internal/search"
	"github.com/shelfline/curator-cli/internal/store"
	"github.com/shelfline/curator-cli/internal/validate"
	"github.com/shelfline/curator-cli/internal/workflow"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	results []model.SearchCandidate
}

func (f *fakeProvider) SearchImages(_ context.Context, _ string) ([]model.SearchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubValidator struct {
	report validate.Report
}

func (s stubValidator) Validate(_ context.Context, _ *model.Product, _ []byte) validate.Report {
	return s.report
}

// testJPEG encodes a noisy image so every optimizer rung has real work.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 13), uint8((x + y) * 3), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// imageServer serves a valid JPEG at /ok.jpg, junk bytes labelled as an
// image at /junk.jpg, and 404 everywhere else.
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	data := testJPEG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg", "/ok2.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(data)
		case "/junk.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(bytes.Repeat([]byte("notanimage"), 200))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type procHarness struct {
	store    store.Store
	provider *fakeProvider
	server   *httptest.Server
	root     string
}

func newHarness(t *testing.T) *procHarness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	return &procHarness{
		store:    st,
		provider: &fakeProvider{},
		server:   imageServer(t),
		root:     filepath.Join(dir, "output"),
	}
}

func (h *procHarness) candidate(path string) model.SearchCandidate {
	return model.SearchCandidate{
		Title:    "Koo Baked Beans in Tomato Sauce 410g",
		ImageURL: h.server.URL + path,
		Source:   "checkers.co.za",
	}
}

// processor builds the chain with a stubbed validation verdict. confidence
// is the fraction the validator reports for every image.
func (h *procHarness) processor(t *testing.T, confidence float64, bypassCache bool) *Processor {
	t.Helper()
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1
	retry.InitialBackoff = time.Millisecond

	engine := decision.New(config.DecisionConfig{})
	return NewProcessor(ProcessorConfig{
		Store:       h.store,
		Fetcher:     search.NewFetcher(h.provider, nil),
		Scorer:      scorer.New(scorer.PolicyVariantAware),
		BroadScorer: scorer.New(scorer.PolicyBroad),
		Downloader:  download.New(config.ImagesConfig{MinBytes: 10}, download.WithRetry(retry)),
		Optimizer:   imaging.NewOptimizer(config.ImagesConfig{}),
		Validator:   stubValidator{report: validate.Report{Confidence: confidence, Quality: validate.QualityReport{Score: 80, Professional: true}}},
		Snapshot:    engine.Snapshot(&model.ConfidenceAdjustments{SuccessRate: 0.5}),
		Workflow:    workflow.NewManager(h.store, learning.NewLoop(h.store), h.root),
		CacheTTL:    24 * time.Hour,
		BypassCache: bypassCache,
	})
}

func (h *procHarness) seedProduct(t *testing.T, sku string) *model.Product {
	t.Helper()
	p := &model.Product{
		SKU:     sku,
		Barcode: "6001234567890",
		Brand:   "Koo",
		Title:   "Baked Beans",
		Variant: "Tomato Sauce",
		Status:  model.StatusNotProcessed,
	}
	require.NoError(t, h.store.UpsertProduct(context.Background(), p))
	return p
}

func TestProcessHighConfidenceAutoApproves(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/ok.jpg")}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, outcome.Status)
	assert.InDelta(t, 90.0, outcome.Confidence, 0.001)
	assert.Equal(t, "checkers.co.za", outcome.Source)
	assert.FileExists(t, filepath.Join(h.root, "approved", "Koo", "Baked Beans_SKU001.jpg"))

	stored, err := h.store.GetProduct(context.Background(), "SKU001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
	assert.InDelta(t, 90.0, stored.Confidence, 0.001)
}

func TestProcessMidConfidenceGoesPending(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/ok.jpg")}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.5, false).Process(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, outcome.Status)
	assert.FileExists(t, filepath.Join(h.root, "pending", "Koo", "Baked Beans_SKU001.jpg"))
}

func TestProcessLowConfidenceDeclinesWithoutFeedback(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/ok.jpg")}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.2, false).Process(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.StatusDeclined, outcome.Status)
	assert.FileExists(t, filepath.Join(h.root, "declined", "Koo", "Baked Beans_SKU001.jpg"))

	// Learning records come from human verdicts only.
	recs, err := h.store.ListFeedback(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestProcessNoCandidatesMarksNotFound(t *testing.T) {
	h := newHarness(t)
	h.provider.results = nil
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.StatusNotFound, outcome.Status)
	assert.Equal(t, "no search results", outcome.Reason)

	stored, err := h.store.GetProduct(context.Background(), "SKU001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, stored.Status)
	assert.Empty(t, stored.ImagePath)
}

func TestProcessWeakCandidatesRejectedByWinnerGate(t *testing.T) {
	h := newHarness(t)
	// No brand, no variant, unknown domain: scores below the winner bar.
	h.provider.results = []model.SearchCandidate{{
		Title:    "Generic canned goods",
		ImageURL: h.server.URL + "/ok.jpg",
		Source:   "randomblog.example",
	}}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, model.StatusNotFound, outcome.Status)
	assert.Equal(t, "below winner threshold", outcome.Reason)
}

func TestProcessFallsBackToNextCandidateOnDownloadFailure(t *testing.T) {
	h := newHarness(t)
	dead := h.candidate("/missing.jpg")
	alive := h.candidate("/ok.jpg")
	alive.Title = "Koo Baked Beans Tomato Sauce 410g backup"
	h.provider.results = []model.SearchCandidate{dead, alive}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, outcome.Status)
}

func TestProcessAllDownloadsFailMarksNotFound(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/missing.jpg")}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, outcome.Status)
	assert.Equal(t, "downloads failed", outcome.Reason)
}

func TestProcessUndecodableImageMarksNotFound(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/junk.jpg")}
	p := h.seedProduct(t, "SKU001")

	outcome, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, outcome.Status)
	assert.Equal(t, "image could not be processed", outcome.Reason)
}

func TestProcessUsesSearchCache(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/ok.jpg")}
	p := h.seedProduct(t, "SKU001")
	proc := h.processor(t, 0.9, false)

	_, err := proc.Process(context.Background(), p)
	require.NoError(t, err)
	callsAfterFirst := h.provider.callCount()
	require.Positive(t, callsAfterFirst)

	// Reset and run again: the cached candidate set should be reused.
	require.NoError(t, h.store.UpdateImageResult(context.Background(), "SKU001", model.StatusNotProcessed, "", 0, ""))
	_, err = proc.Process(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, h.provider.callCount())
}

func TestProcessBypassCacheHitsProviderAgain(t *testing.T) {
	h := newHarness(t)
	h.provider.results = []model.SearchCandidate{h.candidate("/ok.jpg")}
	p := h.seedProduct(t, "SKU001")

	_, err := h.processor(t, 0.9, false).Process(context.Background(), p)
	require.NoError(t, err)
	callsAfterFirst := h.provider.callCount()

	require.NoError(t, h.store.UpdateImageResult(context.Background(), "SKU001", model.StatusNotProcessed, "", 0, ""))
	_, err = h.processor(t, 0.9, true).Process(context.Background(), p)
	require.NoError(t, err)
	assert.Greater(t, h.provider.callCount(), callsAfterFirst)
}

func TestStatusForMapping(t *testing.T) {
	assert.Equal(t, model.StatusApproved, statusFor(decision.ActionAutoApprove))
	assert.Equal(t, model.StatusPending, statusFor(decision.ActionManualReview))
	assert.Equal(t, model.StatusDeclined, statusFor(decision.ActionAutoReject))
}
