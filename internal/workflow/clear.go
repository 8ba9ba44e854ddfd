package workflow

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/store"
)

// ClearScope selects what a clear operation wipes.
type ClearScope string

const (
	// ScopeDeclined wipes the declined folder only.
	ScopeDeclined ClearScope = "declined"
	// ScopePending wipes the review queue.
	ScopePending ClearScope = "pending"
	// ScopeAllUnapproved wipes pending and declined, keeping approvals.
	ScopeAllUnapproved ClearScope = "all_unapproved"
	// ScopeFullReset wipes everything, approved work included.
	ScopeFullReset ClearScope = "full_reset"
)

// ErrConfirmRequired is returned when a destructive scope is requested
// without explicit confirmation.
var ErrConfirmRequired = eris.New("workflow: destructive clear requires confirmation")

func (s ClearScope) statuses() []model.ImageStatus {
	switch s {
	case ScopeDeclined:
		return []model.ImageStatus{model.StatusDeclined}
	case ScopePending:
		return []model.ImageStatus{model.StatusPending}
	case ScopeAllUnapproved:
		return []model.ImageStatus{model.StatusPending, model.StatusDeclined}
	case ScopeFullReset:
		return []model.ImageStatus{model.StatusPending, model.StatusDeclined, model.StatusApproved}
	default:
		return nil
	}
}

func (s ClearScope) destructive() bool {
	return s == ScopeAllUnapproved || s == ScopeFullReset
}

// Clear removes stored images in the scope and resets the matching
// products to not_processed. Returns how many products were reset.
func (m *Manager) Clear(ctx context.Context, scope ClearScope, confirm bool) (int, error) {
	statuses := scope.statuses()
	if statuses == nil {
		return 0, eris.Errorf("workflow: unknown clear scope %q", scope)
	}
	if scope.destructive() && !confirm {
		return 0, ErrConfirmRequired
	}

	reset := 0
	for _, status := range statuses {
		products, err := m.store.ListProducts(ctx, store.ProductFilter{Status: status})
		if err != nil {
			return reset, eris.Wrapf(err, "workflow: list %s products", status)
		}
		for _, p := range products {
			if p.ImagePath != "" {
				removeImage(p.ImagePath)
			}
			if err := m.store.UpdateImageResult(ctx, p.SKU, model.StatusNotProcessed, "", 0, ""); err != nil {
				return reset, eris.Wrapf(err, "workflow: reset %s", p.SKU)
			}
			reset++
		}

		// Sweep stragglers the store no longer knows about.
		if dir, ok := statusDirs[status]; ok {
			if err := os.RemoveAll(filepath.Join(m.root, dir)); err != nil {
				zap.L().Warn("workflow: folder not removed", zap.String("dir", dir), zap.Error(err))
			}
		}
	}

	zap.L().Info("workflow: cleared",
		zap.String("scope", string(scope)),
		zap.Int("reset", reset),
	)
	return reset, nil
}
