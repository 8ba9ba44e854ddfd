package validate

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfline/curator-cli/internal/model"
)

type stubClip struct {
	sims []float64
	err  error
}

func (s *stubClip) Similarity(_ context.Context, _ []byte, texts []string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.sims != nil {
		return s.sims, nil
	}
	return make([]float64, len(texts)), nil
}

type stubOCR struct {
	text string
	err  error
}

func (s *stubOCR) ExtractText(_ context.Context, _ []byte) (string, error) {
	return s.text, s.err
}

func validateProduct() *model.Product {
	return &model.Product{
		SKU:     "SKU001",
		Brand:   "Koo",
		Title:   "Baked Beans in Tomato Sauce",
		Variant: "Tomato Sauce",
	}
}

// cleanImageBytes encodes a sharp, square, evenly lit image that scores
// 90 quality and professional=true.
func cleanImageBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checkerboard(320, 320, 80)))
	return buf.Bytes()
}

func TestValidateUndecodableImage(t *testing.T) {
	v := New(nil, nil)
	r := v.Validate(context.Background(), validateProduct(), []byte("garbage"))

	assert.True(t, r.ManualReview)
	assert.Zero(t, r.Confidence)
	assert.Equal(t, "stored image could not be decoded", r.Reason)
}

func TestValidateFullAgreement(t *testing.T) {
	// Cosine 0 rescales to a 0.5 base; packaging text confirms brand,
	// both variant tokens, and four title keywords. Raw boost exceeds
	// the cap, so confidence lands on base + 0.30.
	v := New(
		&stubClip{sims: []float64{0, 0, 0}},
		&stubOCR{text: "KOO BAKED BEANS TOMATO SAUCE 410g"},
	)
	r := v.Validate(context.Background(), validateProduct(), cleanImageBytes(t))

	assert.InDelta(t, 0.5, r.Base, 1e-9)
	assert.InDelta(t, 0.30, r.OCRBoost, 1e-9)
	assert.Empty(t, r.TextIssues)
	assert.InDelta(t, 0.80, r.Confidence, 1e-9)
}

func TestValidateTextIssuesPenalize(t *testing.T) {
	v := New(
		&stubClip{sims: []float64{0, 0, 0}},
		&stubOCR{text: "SOMETHING ELSE ENTIRELY"},
	)
	r := v.Validate(context.Background(), validateProduct(), cleanImageBytes(t))

	require.Len(t, r.TextIssues, 2)
	assert.Zero(t, r.OCRBoost)
	assert.InDelta(t, 0.30, r.Confidence, 1e-9)
}

func TestValidateOCRFailureIsNeutral(t *testing.T) {
	v := New(
		&stubClip{sims: []float64{0, 0, 0}},
		&stubOCR{err: eris.New("service down")},
	)
	r := v.Validate(context.Background(), validateProduct(), cleanImageBytes(t))

	assert.Zero(t, r.OCRBoost)
	assert.Empty(t, r.TextIssues)
	assert.InDelta(t, 0.50, r.Confidence, 1e-9)
}

func TestValidateClipFailureFallsBackToNeutralBase(t *testing.T) {
	v := New(&stubClip{err: eris.New("connection refused")}, nil)
	r := v.Validate(context.Background(), validateProduct(), cleanImageBytes(t))

	assert.InDelta(t, 0.5, r.Base, 1e-9)
	assert.InDelta(t, 0.50, r.Confidence, 1e-9)
}

func TestValidateLowQualityPenalty(t *testing.T) {
	// Small, dark, featureless image: quality 25, under the 50 floor.
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(100, 100, color.RGBA{30, 30, 30, 255})))

	v := New(nil, nil)
	r := v.Validate(context.Background(), validateProduct(), buf.Bytes())

	assert.Less(t, r.Quality.Score, 50.0)
	assert.InDelta(t, 0.35, r.Confidence, 1e-9)
}

func TestValidateUnprofessionalPenalty(t *testing.T) {
	// Wide aspect flips professional without a quality score penalty.
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checkerboard(640, 320, 80)))

	v := New(nil, nil)
	r := v.Validate(context.Background(), validateProduct(), buf.Bytes())

	assert.False(t, r.Quality.Professional)
	assert.GreaterOrEqual(t, r.Quality.Score, 50.0)
	assert.InDelta(t, 0.40, r.Confidence, 1e-9)
}

func TestValidateConfidenceClamped(t *testing.T) {
	v := New(
		&stubClip{sims: []float64{0.9, 0.9, 0.9}}, // base 0.95
		&stubOCR{text: "KOO BAKED BEANS TOMATO SAUCE"},
	)
	r := v.Validate(context.Background(), validateProduct(), cleanImageBytes(t))
	assert.Equal(t, 1.0, r.Confidence)
}

func TestValidateOrderStable(t *testing.T) {
	v := New(
		&stubClip{sims: []float64{0.2, 0.4, 0.1}},
		&stubOCR{text: "KOO BAKED BEANS"},
	)
	p := validateProduct()
	img := cleanImageBytes(t)

	first := v.Validate(context.Background(), p, img)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first.Confidence, v.Validate(context.Background(), p, img).Confidence)
	}
}

func TestTextEvidenceBoostBreakdown(t *testing.T) {
	p := validateProduct()

	// Brand only.
	boost, issues := textEvidence(p, "koo fine foods")
	assert.InDelta(t, 0.15, boost, 1e-9)
	require.Len(t, issues, 1) // variant missing

	// Brand plus one variant token: 0.15 + 0.10.
	boost, issues = textEvidence(p, "koo tomato")
	assert.InDelta(t, 0.25, boost, 1e-9)
	assert.Empty(t, issues)

	// One title keyword is below the two-keyword threshold.
	boost, _ = textEvidence(&model.Product{Title: "Baked Beans in Tomato Sauce"}, "baked something")
	assert.Zero(t, boost)

	// Empty text contributes nothing.
	boost, issues = textEvidence(p, "")
	assert.Zero(t, boost)
	assert.Empty(t, issues)
}
