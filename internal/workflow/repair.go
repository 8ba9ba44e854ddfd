package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RepairReport summarizes a repair pass over the workflow folders.
type RepairReport struct {
	Scanned  int      `json:"scanned"`
	Relinked int      `json:"relinked"`
	Orphans  []string `json:"orphans,omitempty"`
}

// Repair scans the status folders and relinks products to the files
// actually on disk, fixing rows whose status or path drifted. Files
// whose SKU token matches no product are reported as orphans.
func (m *Manager) Repair(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}

	for status, dir := range statusDirs {
		root := filepath.Join(m.root, dir)
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipAll
				}
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".jpg") {
				return nil
			}

			report.Scanned++
			sku := skuFromFilename(path)
			if sku == "" {
				report.Orphans = append(report.Orphans, path)
				return nil
			}

			p, err := m.store.GetProduct(ctx, sku)
			if err != nil {
				report.Orphans = append(report.Orphans, path)
				return nil
			}
			if p.Status == status && p.ImagePath == path {
				return nil
			}

			if err := m.store.UpdateImageResult(ctx, sku, status, path, p.Confidence, p.Source); err != nil {
				return eris.Wrapf(err, "workflow: relink %s", sku)
			}
			report.Relinked++
			zap.L().Info("workflow: relinked",
				zap.String("sku", sku),
				zap.String("status", string(status)),
				zap.String("path", path),
			)
			return nil
		})
		if err != nil {
			return report, eris.Wrapf(err, "workflow: scan %s", dir)
		}
	}

	return report, nil
}
