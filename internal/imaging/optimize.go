// Package imaging normalizes downloaded product shots into the square
// white-padded JPEGs the storefront expects, and finds near-duplicate
// images across the library.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	// Register decoders for the formats retailers actually serve.
	_ "image/gif"
	_ "image/png"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/shelfline/curator-cli/internal/config"
)

// qualityLadder is walked top down until the encoded JPEG fits the
// target size. When even the lowest rung is too big the image is
// scaled down and re-encoded until it fits or hits the side floor.
var qualityLadder = []int{95, 85, 75, 65, 55, 45}

// minSide is the smallest square the downscale loop will produce.
const minSide = 200

// Optimizer converts raw image bytes into normalized JPEGs.
type Optimizer struct {
	maxDimension int
	targetBytes  int
}

// NewOptimizer creates an Optimizer from images config.
func NewOptimizer(cfg config.ImagesConfig) *Optimizer {
	maxDim := cfg.MaxDimension
	if maxDim <= 0 {
		maxDim = 1200
	}
	target := cfg.TargetBytes
	if target <= 0 {
		target = 500 * 1024
	}
	return &Optimizer{maxDimension: maxDim, targetBytes: target}
}

// Optimize decodes data, pads it to a square on white, scales it down to
// the max dimension if needed, and encodes a JPEG under the target size.
func (o *Optimizer) Optimize(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "imaging: decode")
	}

	img = padSquare(img)

	if side := img.Bounds().Dx(); side > o.maxDimension {
		img = scaleTo(img, o.maxDimension)
	}

	return o.encodeUnderTarget(img)
}

// Decode is a thin wrapper exposing the registered format set to callers
// that only need pixel access.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "imaging: decode")
	}
	return img, nil
}

// padSquare centers img on a white square canvas sized to its longer edge.
func padSquare(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == h {
		return img
	}

	side := w
	if h > side {
		side = h
	}

	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	offset := image.Pt((side-w)/2, (side-h)/2)
	draw.Draw(canvas, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(w, h))}, img, b.Min, draw.Over)
	return canvas
}

// scaleTo resizes a square image to side x side with Catmull-Rom.
func scaleTo(img image.Image, side int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

func (o *Optimizer) encodeUnderTarget(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	for _, q := range qualityLadder {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, eris.Wrapf(err, "imaging: encode at quality %d", q)
		}
		if buf.Len() <= o.targetBytes {
			return buf.Bytes(), nil
		}
	}

	// Lowest rung still over target: trade pixels for bytes.
	lowest := qualityLadder[len(qualityLadder)-1]
	side := img.Bounds().Dx()
	for side > minSide && buf.Len() > o.targetBytes {
		side = side * 3 / 4
		if side < minSide {
			side = minSide
		}
		img = scaleTo(img, side)
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: lowest}); err != nil {
			return nil, eris.Wrapf(err, "imaging: encode at quality %d", lowest)
		}
	}
	// At the side floor the result ships even if still over target.
	return buf.Bytes(), nil
}
