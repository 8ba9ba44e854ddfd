// Package decision turns a validated confidence score into an action.
// Thresholds adapt to the learned success rate but only move inside a
// narrow band, and they are computed once per batch so every item in a
// run is judged by the same rules.
package decision

import (
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/model"
)

// Action is the verdict for one processed product image.
type Action string

const (
	ActionAutoApprove  Action = "auto_approve"
	ActionManualReview Action = "manual_review"
	ActionAutoReject   Action = "auto_reject"
)

const (
	defaultAutoApprove = 65.0
	defaultNeedsReview = 30.0

	autoApproveBandLow  = 60.0
	autoApproveBandHigh = 70.0
	needsReviewBandLow  = 30.0
	needsReviewBandHigh = 35.0

	adaptiveShift   = 5.0
	lowSuccessRate  = 0.5
	highSuccessRate = 0.8

	// Sources with a rejection history are rejected outright when the
	// adjusted confidence sits under this bar.
	rejectedSourceFloor = 60.0
	rejectedSourceMin   = 5
)

// Engine holds the configured baselines.
type Engine struct {
	autoApprove float64
	needsReview float64
}

// New creates an Engine from decision config, clamping baselines to
// their allowed bands.
func New(cfg config.DecisionConfig) *Engine {
	aa := cfg.AutoApprove
	if aa <= 0 {
		aa = defaultAutoApprove
	}
	nr := cfg.NeedsReview
	if nr <= 0 {
		nr = defaultNeedsReview
	}
	return &Engine{
		autoApprove: clamp(aa, autoApproveBandLow, autoApproveBandHigh),
		needsReview: clamp(nr, needsReviewBandLow, needsReviewBandHigh),
	}
}

// Snapshot is the per-batch view of thresholds and source adjustments.
// It is computed once when a batch starts and never mutated, so items
// within a batch are judged consistently.
type Snapshot struct {
	AutoApprove       float64
	NeedsReview       float64
	sourceMultipliers map[string]float64
	rejectedSources   map[string]int
}

// Snapshot folds the learned adjustments into a per-batch snapshot.
// The auto-approve threshold shifts up when the learned success rate is
// poor and down when it is strong, bounded by the band.
func (e *Engine) Snapshot(adj *model.ConfidenceAdjustments) Snapshot {
	aa := e.autoApprove
	if adj != nil {
		if adj.SuccessRate < lowSuccessRate {
			aa += adaptiveShift
		} else if adj.SuccessRate > highSuccessRate {
			aa -= adaptiveShift
		}
	}
	aa = clamp(aa, autoApproveBandLow, autoApproveBandHigh)

	s := Snapshot{
		AutoApprove:       aa,
		NeedsReview:       e.needsReview,
		sourceMultipliers: map[string]float64{},
		rejectedSources:   map[string]int{},
	}
	if adj != nil {
		for source, m := range adj.SourceMultipliers {
			s.sourceMultipliers[source] = m
		}
		for source, n := range adj.RejectedSources {
			s.rejectedSources[source] = n
		}
	}

	zap.L().Debug("decision: snapshot",
		zap.Float64("auto_approve", s.AutoApprove),
		zap.Float64("needs_review", s.NeedsReview),
		zap.Int("source_multipliers", len(s.sourceMultipliers)),
	)
	return s
}

// Decide classifies a confidence score (0-100) for an image from source.
// Returns the action and the multiplier-adjusted confidence it was
// judged on.
func (s Snapshot) Decide(confidence float64, source string) (Action, float64) {
	adjusted := confidence * s.multiplierFor(source)
	if adjusted > 100 {
		adjusted = 100
	}

	if s.rejectedSources[source] > rejectedSourceMin && adjusted < rejectedSourceFloor {
		return ActionAutoReject, adjusted
	}

	switch {
	case adjusted >= s.AutoApprove:
		return ActionAutoApprove, adjusted
	case adjusted >= s.NeedsReview:
		return ActionManualReview, adjusted
	default:
		return ActionAutoReject, adjusted
	}
}

func (s Snapshot) multiplierFor(source string) float64 {
	if m, ok := s.sourceMultipliers[source]; ok && m > 0 {
		return m
	}
	return 1.0
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
