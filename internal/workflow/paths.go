// Package workflow owns the review lifecycle on disk and in the store:
// images live under status folders, moves and status updates happen
// together, and every operation reports (ok, reason) so reviewers see
// why a request was refused instead of an opaque failure.
package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/model"
)

// statusDirs maps statuses to the folders that exist on disk.
// not_processed and not_found have no folder: those products hold no image.
var statusDirs = map[model.ImageStatus]string{
	model.StatusApproved: "approved",
	model.StatusPending:  "pending",
	model.StatusDeclined: "declined",
}

// SanitizeFilename makes s safe for every filesystem we ship to.
// Apostrophes survive: "Aunty's Vetkoek" keeps its name on disk.
func SanitizeFilename(s string) string {
	const invalid = `<>:"/\|?*`
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) {
			return '_'
		}
		return r
	}, s)
	cleaned = strings.Trim(cleaned, " .")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// ImagePath builds the canonical location for a product's image in the
// given status folder: {root}/{status}/{brand}/{safeTitle}_{safeSKU}.jpg.
func ImagePath(root string, status model.ImageStatus, p *model.Product) string {
	dir, ok := statusDirs[status]
	if !ok {
		dir = "pending"
	}
	name := SanitizeFilename(p.Title) + "_" + SanitizeFilename(p.SKU) + ".jpg"
	return filepath.Join(root, dir, SanitizeFilename(p.Brand), name)
}

// Sidecar is the JSON metadata written next to every stored image. It
// carries the search context forward so a later human verdict can still
// report which signals matched.
type Sidecar struct {
	SKU          string    `json:"sku"`
	Barcode      string    `json:"barcode,omitempty"`
	Brand        string    `json:"brand"`
	Title        string    `json:"title"`
	Variant      string    `json:"variant,omitempty"`
	Status       string    `json:"status"`
	Confidence   float64   `json:"confidence"`
	Source       string    `json:"source,omitempty"`
	Query        string    `json:"query,omitempty"`
	BarcodeMatch bool      `json:"barcode_match,omitempty"`
	BrandMatch   bool      `json:"brand_match,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SidecarPath is the metadata file belonging to an image path.
func SidecarPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
}

// WriteSidecar writes the metadata file next to imagePath.
func WriteSidecar(imagePath string, p *model.Product, ev learning.Event) error {
	sc := Sidecar{
		SKU:          p.SKU,
		Barcode:      p.Barcode,
		Brand:        p.Brand,
		Title:        p.Title,
		Variant:      p.Variant,
		Status:       string(p.Status),
		Confidence:   p.Confidence,
		Source:       p.Source,
		Query:        ev.Query,
		BarcodeMatch: ev.BarcodeMatch,
		BrandMatch:   ev.BrandMatch,
		UpdatedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "workflow: marshal sidecar")
	}
	if err := os.WriteFile(SidecarPath(imagePath), data, 0o644); err != nil {
		return eris.Wrapf(err, "workflow: write sidecar for %s", imagePath)
	}
	return nil
}

// ReadSidecarMeta recovers the search context from the sidecar next to
// imagePath. A missing or unreadable sidecar yields a zero event.
func ReadSidecarMeta(imagePath string) learning.Event {
	data, err := os.ReadFile(SidecarPath(imagePath))
	if err != nil {
		return learning.Event{}
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return learning.Event{}
	}
	return learning.Event{
		Query:        sc.Query,
		BarcodeMatch: sc.BarcodeMatch,
		BrandMatch:   sc.BrandMatch,
	}
}

// skuFromFilename recovers the SKU token from a stored image filename:
// the segment after the last underscore, before the extension.
func skuFromFilename(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	idx := strings.LastIndex(base, "_")
	if idx < 0 || idx == len(base)-1 {
		return ""
	}
	return base[idx+1:]
}
