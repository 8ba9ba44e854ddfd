package workflow

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/store"
)

// Manager moves images between status folders and keeps the store row
// in agreement with the filesystem.
type Manager struct {
	store store.Store
	loop  *learning.Loop
	root  string
}

// NewManager creates a workflow Manager rooted at the images directory.
func NewManager(st store.Store, loop *learning.Loop, root string) *Manager {
	return &Manager{store: st, loop: loop, root: root}
}

// Save stores freshly optimized image bytes for a product in the folder
// for status, writes the sidecar, and records the result in the store.
// The event is persisted in the sidecar so a later human verdict keeps
// its search context.
func (m *Manager) Save(ctx context.Context, p *model.Product, status model.ImageStatus, data []byte, ev learning.Event) (string, error) {
	dest := ImagePath(m.root, status, p)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrapf(err, "workflow: create dir for %s", p.SKU)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "workflow: write image for %s", p.SKU)
	}

	p.Status = status
	p.ImagePath = dest
	if err := WriteSidecar(dest, p, ev); err != nil {
		return "", err
	}
	if err := m.store.UpdateImageResult(ctx, p.SKU, status, dest, p.Confidence, p.Source); err != nil {
		return "", err
	}
	return dest, nil
}

// Approve promotes a pending image to approved and records positive
// feedback. Approving an already approved SKU reports ok without moving
// files or writing a second learning record.
func (m *Manager) Approve(ctx context.Context, sku string) (bool, string) {
	p, err := m.store.GetProduct(ctx, sku)
	if err != nil {
		return false, "product not found"
	}
	if p.Status == model.StatusApproved {
		return true, "already approved"
	}
	if p.Status != model.StatusPending {
		return false, "no pending image to approve"
	}

	ev := ReadSidecarMeta(p.ImagePath)
	if err := m.move(ctx, p, model.StatusApproved); err != nil {
		zap.L().Error("workflow: approve failed", zap.String("sku", sku), zap.Error(err))
		return false, "move failed"
	}
	if err := m.loop.RecordApproval(ctx, p, ev); err != nil {
		zap.L().Warn("workflow: approval feedback not recorded", zap.String("sku", sku), zap.Error(err))
	}
	return true, ""
}

// Decline moves a pending image to declined and records negative feedback.
func (m *Manager) Decline(ctx context.Context, sku string) (bool, string) {
	p, err := m.store.GetProduct(ctx, sku)
	if err != nil {
		return false, "product not found"
	}
	if p.Status != model.StatusPending {
		return false, "no pending image to decline"
	}

	ev := ReadSidecarMeta(p.ImagePath)
	if err := m.move(ctx, p, model.StatusDeclined); err != nil {
		zap.L().Error("workflow: decline failed", zap.String("sku", sku), zap.Error(err))
		return false, "move failed"
	}
	if err := m.loop.RecordDecline(ctx, p, ev); err != nil {
		zap.L().Warn("workflow: decline feedback not recorded", zap.String("sku", sku), zap.Error(err))
	}
	return true, ""
}

// Unapprove sends an approved image back to the review queue.
func (m *Manager) Unapprove(ctx context.Context, sku string) (bool, string) {
	p, err := m.store.GetProduct(ctx, sku)
	if err != nil {
		return false, "product not found"
	}
	if p.Status != model.StatusApproved {
		return false, "not approved"
	}

	if err := m.move(ctx, p, model.StatusPending); err != nil {
		zap.L().Error("workflow: unapprove failed", zap.String("sku", sku), zap.Error(err))
		return false, "move failed"
	}
	return true, ""
}

// Reprocess removes the stored image and resets the product so the next
// batch picks it up from scratch.
func (m *Manager) Reprocess(ctx context.Context, sku string) (bool, string) {
	p, err := m.store.GetProduct(ctx, sku)
	if err != nil {
		return false, "product not found"
	}

	if p.ImagePath != "" {
		removeImage(p.ImagePath)
	}
	if err := m.store.UpdateImageResult(ctx, sku, model.StatusNotProcessed, "", 0, ""); err != nil {
		return false, "reset failed"
	}
	return true, ""
}

// OpResult is the outcome of one SKU in a bulk operation.
type OpResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// BulkApprove approves each SKU independently; one failure never stops
// the rest.
func (m *Manager) BulkApprove(ctx context.Context, skus []string) map[string]OpResult {
	return m.bulk(ctx, skus, m.Approve)
}

// BulkDecline declines each SKU independently.
func (m *Manager) BulkDecline(ctx context.Context, skus []string) map[string]OpResult {
	return m.bulk(ctx, skus, m.Decline)
}

func (m *Manager) bulk(ctx context.Context, skus []string, op func(context.Context, string) (bool, string)) map[string]OpResult {
	results := make(map[string]OpResult, len(skus))
	for _, sku := range skus {
		ok, reason := op(ctx, sku)
		results[sku] = OpResult{OK: ok, Reason: reason}
	}
	return results
}

// move relocates the image and sidecar into the folder for status and
// updates the store row. Status and path change together or not at all.
func (m *Manager) move(ctx context.Context, p *model.Product, status model.ImageStatus) error {
	ev := ReadSidecarMeta(p.ImagePath)
	dest := ImagePath(m.root, status, p)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "workflow: create status dir")
	}
	if err := os.Rename(p.ImagePath, dest); err != nil {
		return eris.Wrapf(err, "workflow: move %s", p.SKU)
	}
	// Sidecar follows the image; a missing sidecar is recreated.
	if err := os.Rename(SidecarPath(p.ImagePath), SidecarPath(dest)); err != nil {
		if writeErr := WriteSidecar(dest, p, ev); writeErr != nil {
			zap.L().Warn("workflow: sidecar not restored", zap.String("sku", p.SKU), zap.Error(writeErr))
		}
	}

	if err := m.store.UpdateImageResult(ctx, p.SKU, status, dest, p.Confidence, p.Source); err != nil {
		// Roll the file back so disk and store stay consistent.
		if rbErr := os.Rename(dest, p.ImagePath); rbErr != nil {
			zap.L().Error("workflow: rollback failed",
				zap.String("sku", p.SKU),
				zap.Error(rbErr),
			)
		} else {
			_ = os.Rename(SidecarPath(dest), SidecarPath(p.ImagePath))
		}
		return err
	}

	p.Status = status
	p.ImagePath = dest
	rewriteSidecarStatus(dest, p, ev)
	return nil
}

func rewriteSidecarStatus(imagePath string, p *model.Product, ev learning.Event) {
	if err := WriteSidecar(imagePath, p, ev); err != nil {
		zap.L().Warn("workflow: sidecar not updated", zap.String("sku", p.SKU), zap.Error(err))
	}
}

func removeImage(imagePath string) {
	if err := os.Remove(imagePath); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("workflow: image not removed", zap.String("path", imagePath), zap.Error(err))
	}
	if err := os.Remove(SidecarPath(imagePath)); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("workflow: sidecar not removed", zap.String("path", imagePath), zap.Error(err))
	}
}
