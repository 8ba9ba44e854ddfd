package clip

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfline/curator-cli/internal/model"
)

// fakeService scores by thumbnail payload: the map value is the cosine
// similarity returned for every text variant.
type fakeService struct {
	scores map[string]float64
	err    error
}

func (f *fakeService) Similarity(_ context.Context, image []byte, texts []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(texts))
	for i := range out {
		out[i] = f.scores[string(image)]
	}
	return out, nil
}

func fetchByURL(failing map[string]bool) FetchFunc {
	return func(_ context.Context, url string) ([]byte, error) {
		if failing[url] {
			return nil, eris.New("404")
		}
		return []byte(url), nil
	}
}

func rerankProduct() *model.Product {
	return &model.Product{
		SKU:      "SKU001",
		Brand:    "Koo",
		Title:    "Baked Beans",
		Variant:  "Tomato Sauce",
		SizeText: "410g",
	}
}

func TestDescriptions(t *testing.T) {
	texts := Descriptions(rerankProduct())
	require.Len(t, texts, 3)
	assert.Equal(t, "A product photo of Koo Baked Beans", texts[0])
	assert.Equal(t, "A package of Koo Tomato Sauce", texts[1])
	assert.Equal(t, "Koo Baked Beans 410g", texts[2])

	bare := Descriptions(&model.Product{Brand: "Koo", Title: "Baked Beans"})
	require.Len(t, bare, 1)
}

func TestRerankReordersByScore(t *testing.T) {
	svc := &fakeService{scores: map[string]float64{
		"t1": 0.2,
		"t2": 0.9,
		"t3": 0.5,
	}}
	r := NewReranker(svc, fetchByURL(nil), 5, 2)

	out := r.Rerank(context.Background(), rerankProduct(), []model.SearchCandidate{
		{ImageURL: "i1", ThumbnailURL: "t1"},
		{ImageURL: "i2", ThumbnailURL: "t2"},
		{ImageURL: "i3", ThumbnailURL: "t3"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "i2", out[0].ImageURL)
	assert.Equal(t, "i3", out[1].ImageURL)
	assert.Equal(t, "i1", out[2].ImageURL)

	// Cosine rescaled into [0, 1].
	assert.InDelta(t, 0.95, out[0].ClipScore, 1e-9)
	assert.InDelta(t, 0.6, out[2].ClipScore, 1e-9)
}

func TestRerankFailedThumbnailsKeepOrder(t *testing.T) {
	svc := &fakeService{scores: map[string]float64{"t3": 0.9}}
	r := NewReranker(svc, fetchByURL(map[string]bool{"t1": true, "t2": true}), 5, 2)

	out := r.Rerank(context.Background(), rerankProduct(), []model.SearchCandidate{
		{ImageURL: "i1", ThumbnailURL: "t1"},
		{ImageURL: "i2", ThumbnailURL: "t2"},
		{ImageURL: "i3", ThumbnailURL: "t3"},
	})
	require.Len(t, out, 3)
	// Scored candidate first, then the failed ones in their original order.
	assert.Equal(t, "i3", out[0].ImageURL)
	assert.Equal(t, "i1", out[1].ImageURL)
	assert.Equal(t, "i2", out[2].ImageURL)
}

func TestRerankServiceDownKeepsTextualOrder(t *testing.T) {
	svc := &fakeService{err: eris.New("connection refused")}
	r := NewReranker(svc, fetchByURL(nil), 5, 2)

	in := []model.SearchCandidate{
		{ImageURL: "i1", ThumbnailURL: "t1"},
		{ImageURL: "i2", ThumbnailURL: "t2"},
	}
	out := r.Rerank(context.Background(), rerankProduct(), in)
	require.Len(t, out, 2)
	assert.Equal(t, "i1", out[0].ImageURL)
	assert.Equal(t, "i2", out[1].ImageURL)
}

func TestRerankWindowLeavesTailUntouched(t *testing.T) {
	svc := &fakeService{scores: map[string]float64{"t1": 0.1, "t2": 0.8}}
	r := NewReranker(svc, fetchByURL(nil), 2, 2)

	out := r.Rerank(context.Background(), rerankProduct(), []model.SearchCandidate{
		{ImageURL: "i1", ThumbnailURL: "t1"},
		{ImageURL: "i2", ThumbnailURL: "t2"},
		{ImageURL: "i3", ThumbnailURL: "t3"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "i2", out[0].ImageURL)
	assert.Equal(t, "i1", out[1].ImageURL)
	// Beyond the window: never fetched, never moved.
	assert.Equal(t, "i3", out[2].ImageURL)
	assert.Zero(t, out[2].ClipScore)
}

func TestRerankFallsBackToImageURL(t *testing.T) {
	svc := &fakeService{scores: map[string]float64{"i1": 0.5}}
	r := NewReranker(svc, fetchByURL(nil), 5, 1)

	out := r.Rerank(context.Background(), rerankProduct(), []model.SearchCandidate{
		{ImageURL: "i1"},
	})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.75, out[0].ClipScore, 1e-9)
}

func TestRerankEmptyInput(t *testing.T) {
	r := NewReranker(&fakeService{}, fetchByURL(nil), 5, 1)
	assert.Empty(t, r.Rerank(context.Background(), rerankProduct(), nil))
}
