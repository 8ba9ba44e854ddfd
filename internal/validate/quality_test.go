package validate

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

// checkerboard is sharp, evenly lit, and mostly flat: the shape of a
// clean studio shot as far as the heuristics are concerned.
func checkerboard(w, h, block int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/block+y/block)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestAnalyzeQualityCleanShot(t *testing.T) {
	r := AnalyzeQuality(checkerboard(320, 320, 80))
	// Only the flat two-color histogram is penalized.
	assert.Equal(t, 90.0, r.Score)
	assert.True(t, r.Professional)
	assert.Equal(t, []string{"flat color range"}, r.Notes)
}

func TestAnalyzeQualitySmallImage(t *testing.T) {
	r := AnalyzeQuality(checkerboard(200, 200, 50))
	assert.Contains(t, r.Notes, "image too small")
	assert.Equal(t, 60.0, r.Score)
}

func TestAnalyzeQualityShortImage(t *testing.T) {
	// Wide enough, but the height is under the floor.
	r := AnalyzeQuality(checkerboard(500, 200, 50))
	assert.Contains(t, r.Notes, "image too small")
	assert.Equal(t, 60.0, r.Score)
}

func TestAnalyzeQualityBlurryAndDim(t *testing.T) {
	// Solid dark gray: no detail, brightness below the floor.
	r := AnalyzeQuality(solid(320, 320, color.RGBA{30, 30, 30, 255}))
	assert.Contains(t, r.Notes, "blurry")
	assert.Contains(t, r.Notes, "poor lighting")
	assert.Contains(t, r.Notes, "flat color range")
	// 100 - 20 - 15 - 10
	assert.Equal(t, 55.0, r.Score)
	assert.True(t, r.Professional)
}

func TestAnalyzeQualityBusyBackground(t *testing.T) {
	// A 2px checkerboard is nearly all edges.
	r := AnalyzeQuality(checkerboard(320, 320, 2))
	assert.Contains(t, r.Notes, "busy background")
	assert.False(t, r.Professional)
}

func TestAnalyzeQualityAspectFlipsProfessionalOnly(t *testing.T) {
	wide := AnalyzeQuality(checkerboard(640, 320, 80))
	square := AnalyzeQuality(checkerboard(320, 320, 80))

	assert.False(t, wide.Professional)
	assert.Contains(t, wide.Notes, "unusual aspect ratio")
	// No score penalty relative to the square variant.
	assert.Equal(t, square.Score, wide.Score)
}

func TestAnalyzeQualityScoreFloorsAtZero(t *testing.T) {
	// Tiny, dark, featureless: every penalty at once still floors at 0.
	r := AnalyzeQuality(solid(100, 100, color.RGBA{10, 10, 10, 255}))
	assert.GreaterOrEqual(t, r.Score, 0.0)
}
