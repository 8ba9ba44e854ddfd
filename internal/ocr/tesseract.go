package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Tesseract extracts text by shelling out to the tesseract CLI.
type Tesseract struct {
	binPath string
}

// NewTesseract creates a Tesseract extractor. If binPath is empty,
// "tesseract" is resolved from PATH.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath}
}

// ExtractText pipes the image through tesseract stdin and returns stdout.
func (t *Tesseract) ExtractText(ctx context.Context, image []byte) (string, error) {
	cmd := exec.CommandContext(ctx, t.binPath, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(image)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract failed: %s", stderr.String())
	}

	return stdout.String(), nil
}
