package validate

import (
	"image"
	"math"
)

// Heuristic thresholds tuned against the approved library. Product shots
// are overwhelmingly subjects on clean backgrounds; a busy edge field or
// a dim photo is almost always a lifestyle or in-store picture.
const (
	minSide           = 300
	blurVarianceFloor = 100.0
	brightnessLow     = 50.0
	brightnessHigh    = 200.0
	edgeRatioCeil     = 0.15
	edgeGradient      = 40.0
	entropyFloor      = 3.0
	aspectLow         = 0.7
	aspectHigh        = 1.5
)

// QualityReport holds the pixel-level verdict on a stored image.
type QualityReport struct {
	Score        float64 // 0..100
	Professional bool
	Width        int
	Height       int
	Notes        []string
}

// AnalyzeQuality scores pixel quality out of 100 and judges whether the
// image looks like a professional product shot.
func AnalyzeQuality(img image.Image) QualityReport {
	b := img.Bounds()
	r := QualityReport{
		Score:        100,
		Professional: true,
		Width:        b.Dx(),
		Height:       b.Dy(),
	}

	gray := toGray(img)

	if r.Width < minSide || r.Height < minSide {
		r.Score -= 30
		r.Notes = append(r.Notes, "image too small")
	}
	if laplacianVariance(gray) < blurVarianceFloor {
		r.Score -= 20
		r.Notes = append(r.Notes, "blurry")
	}
	if mb := meanBrightness(gray); mb < brightnessLow || mb > brightnessHigh {
		r.Score -= 15
		r.Notes = append(r.Notes, "poor lighting")
	}
	if edgeRatio(gray) > edgeRatioCeil {
		r.Score -= 25
		r.Professional = false
		r.Notes = append(r.Notes, "busy background")
	}
	if colorEntropy(img) < entropyFloor {
		r.Score -= 10
		r.Notes = append(r.Notes, "flat color range")
	}
	if r.Height > 0 {
		aspect := float64(r.Width) / float64(r.Height)
		if aspect < aspectLow || aspect > aspectHigh {
			r.Professional = false
			r.Notes = append(r.Notes, "unusual aspect ratio")
		}
	}

	if r.Score < 0 {
		r.Score = 0
	}
	return r
}

// toGray flattens img into a luminance grid.
func toGray(img image.Image) [][]float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := make([][]float64, h)
	for y := 0; y < h; y++ {
		gray[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray[y][x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
	}
	return gray
}

// laplacianVariance measures focus: variance of the 4-neighbor Laplacian.
func laplacianVariance(gray [][]float64) float64 {
	h := len(gray)
	if h < 3 {
		return 0
	}
	w := len(gray[0])
	if w < 3 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := gray[y-1][x] + gray[y+1][x] + gray[y][x-1] + gray[y][x+1] - 4*gray[y][x]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func meanBrightness(gray [][]float64) float64 {
	var sum float64
	n := 0
	for _, row := range gray {
		for _, v := range row {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// edgeRatio is the fraction of interior pixels with a strong gradient.
func edgeRatio(gray [][]float64) float64 {
	h := len(gray)
	if h < 3 {
		return 0
	}
	w := len(gray[0])
	if w < 3 {
		return 0
	}

	edges, n := 0, 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := gray[y][x+1] - gray[y][x-1]
			gy := gray[y+1][x] - gray[y-1][x]
			if math.Sqrt(gx*gx+gy*gy) > edgeGradient {
				edges++
			}
			n++
		}
	}
	return float64(edges) / float64(n)
}

// colorEntropy is the Shannon entropy in bits of a 4-bit-per-channel
// color histogram.
func colorEntropy(img image.Image) float64 {
	b := img.Bounds()
	hist := make(map[uint16]int)
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			key := uint16(r>>12)<<8 | uint16(g>>12)<<4 | uint16(bl>>12)
			hist[key]++
			n++
		}
	}
	if n == 0 {
		return 0
	}

	var entropy float64
	for _, count := range hist {
		p := float64(count) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
