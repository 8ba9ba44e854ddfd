package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/imaging"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/store"
)

// AuditReport is the result of a library sanity audit.
type AuditReport struct {
	// MissingFiles are products whose stored path no longer exists on disk.
	MissingFiles []string `json:"missing_files,omitempty"`
	// UntrackedFiles are images on disk no product row points at.
	UntrackedFiles []string `json:"untracked_files,omitempty"`
	// Duplicates are approved images that hash as the same shot under
	// different SKUs.
	Duplicates []imaging.DupePair `json:"duplicates,omitempty"`
}

// Clean reports whether the audit found nothing wrong.
func (r *AuditReport) Clean() bool {
	return len(r.MissingFiles) == 0 && len(r.UntrackedFiles) == 0 && len(r.Duplicates) == 0
}

// Audit cross-checks store rows against the workflow folders and flags
// visually identical approved images. It only reports; Repair fixes drift.
func (m *Manager) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}

	tracked := map[string]bool{}
	for _, status := range []model.ImageStatus{model.StatusPending, model.StatusApproved, model.StatusDeclined} {
		products, err := m.store.ListProducts(ctx, store.ProductFilter{Status: status})
		if err != nil {
			return nil, eris.Wrapf(err, "workflow: list %s products", status)
		}
		for _, p := range products {
			if p.ImagePath == "" {
				continue
			}
			tracked[p.ImagePath] = true
			if _, err := os.Stat(p.ImagePath); err != nil {
				report.MissingFiles = append(report.MissingFiles, p.SKU)
			}
		}
	}
	sort.Strings(report.MissingFiles)

	var hashes []imaging.HashEntry
	for _, dir := range statusDirs {
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
			if !tracked[path] {
				report.UntrackedFiles = append(report.UntrackedFiles, path)
			}
			if dir == statusDirs[model.StatusApproved] {
				if entry, ok := hashFile(path); ok {
					hashes = append(hashes, entry)
				}
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "workflow: scan %s", dir)
		}
	}
	sort.Strings(report.UntrackedFiles)

	dupes, err := imaging.FindDuplicates(hashes, 0)
	if err != nil {
		return nil, err
	}
	report.Duplicates = dupes

	zap.L().Info("workflow: audit complete",
		zap.Int("missing_files", len(report.MissingFiles)),
		zap.Int("untracked_files", len(report.UntrackedFiles)),
		zap.Int("duplicates", len(report.Duplicates)),
	)
	return report, nil
}

// hashFile decodes and hashes one stored image. Undecodable files are
// skipped; the untracked/missing checks already surface broken entries.
func hashFile(path string) (imaging.HashEntry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return imaging.HashEntry{}, false
	}
	img, err := imaging.Decode(data)
	if err != nil {
		zap.L().Debug("workflow: audit skipping undecodable file", zap.String("path", path))
		return imaging.HashEntry{}, false
	}
	entry, err := imaging.HashImage(path, img)
	if err != nil {
		return imaging.HashEntry{}, false
	}
	return entry, true
}
