package workflow

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/store"
)

func solidJPEG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func checkerJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func seedApprovedImage(t *testing.T, m *Manager, st store.Store, sku string, data []byte) *model.Product {
	t.Helper()
	p := &model.Product{
		SKU:    sku,
		Brand:  "Koo",
		Title:  "Item " + sku,
		Status: model.StatusNotProcessed,
	}
	require.NoError(t, st.UpsertProduct(context.Background(), p))
	_, err := m.Save(context.Background(), p, model.StatusApproved, data, learning.Event{})
	require.NoError(t, err)
	return p
}

func TestAuditCleanLibrary(t *testing.T) {
	m, st, _ := newTestManager(t)
	seedApprovedImage(t, m, st, "SKU001", solidJPEG(t, color.RGBA{200, 30, 30, 255}))

	report, err := m.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestAuditFlagsMissingFile(t *testing.T) {
	m, st, _ := newTestManager(t)
	p := seedApprovedImage(t, m, st, "SKU001", solidJPEG(t, color.RGBA{200, 30, 30, 255}))
	require.NoError(t, os.Remove(p.ImagePath))

	report, err := m.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SKU001"}, report.MissingFiles)
}

func TestAuditFlagsUntrackedFile(t *testing.T) {
	m, _, root := newTestManager(t)

	stray := filepath.Join(root, "pending", "Ghost", "Stray_NOSKU.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, solidJPEG(t, color.RGBA{10, 10, 10, 255}), 0o644))

	report, err := m.Audit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{stray}, report.UntrackedFiles)
}

func TestAuditFlagsVisualDuplicates(t *testing.T) {
	m, st, _ := newTestManager(t)
	seedApprovedImage(t, m, st, "SKU001", solidJPEG(t, color.RGBA{200, 30, 30, 255}))
	seedApprovedImage(t, m, st, "SKU002", solidJPEG(t, color.RGBA{201, 31, 30, 255}))
	seedApprovedImage(t, m, st, "SKU003", checkerJPEG(t))

	report, err := m.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Duplicates, 1)

	pair := report.Duplicates[0]
	assert.Contains(t, pair.A+pair.B, "SKU001")
	assert.Contains(t, pair.A+pair.B, "SKU002")
}
