package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shelfline/curator-cli/internal/config"
	"github.com/shelfline/curator-cli/internal/model"
)

func neutralAdjustments() *model.ConfidenceAdjustments {
	return &model.ConfidenceAdjustments{SuccessRate: 0.5}
}

func TestDecideBaselines(t *testing.T) {
	s := New(config.DecisionConfig{AutoApprove: 65, NeedsReview: 30}).Snapshot(neutralAdjustments())

	tests := []struct {
		confidence float64
		want       Action
	}{
		{80, ActionAutoApprove},
		{65, ActionAutoApprove},
		{64.9, ActionManualReview},
		{30, ActionManualReview},
		{29.9, ActionAutoReject},
		{0, ActionAutoReject},
	}
	for _, tt := range tests {
		action, _ := s.Decide(tt.confidence, "checkers.co.za")
		assert.Equal(t, tt.want, action, "confidence %v", tt.confidence)
	}
}

func TestSnapshotAdaptiveShift(t *testing.T) {
	e := New(config.DecisionConfig{AutoApprove: 65, NeedsReview: 30})

	// Neutral prior: no shift.
	assert.Equal(t, 65.0, e.Snapshot(neutralAdjustments()).AutoApprove)

	// Poor track record raises the bar.
	poor := e.Snapshot(&model.ConfidenceAdjustments{SuccessRate: 0.4})
	assert.Equal(t, 70.0, poor.AutoApprove)

	// Strong track record lowers it.
	strong := e.Snapshot(&model.ConfidenceAdjustments{SuccessRate: 0.9})
	assert.Equal(t, 60.0, strong.AutoApprove)
}

func TestSnapshotShiftStaysInBand(t *testing.T) {
	// Baseline already at the band edge: the shift cannot leave it.
	e := New(config.DecisionConfig{AutoApprove: 70, NeedsReview: 30})
	poor := e.Snapshot(&model.ConfidenceAdjustments{SuccessRate: 0.1})
	assert.Equal(t, 70.0, poor.AutoApprove)

	e = New(config.DecisionConfig{AutoApprove: 60, NeedsReview: 30})
	strong := e.Snapshot(&model.ConfidenceAdjustments{SuccessRate: 0.95})
	assert.Equal(t, 60.0, strong.AutoApprove)
}

func TestNewClampsConfiguredBaselines(t *testing.T) {
	e := New(config.DecisionConfig{AutoApprove: 90, NeedsReview: 10})
	s := e.Snapshot(neutralAdjustments())
	assert.Equal(t, 70.0, s.AutoApprove)
	assert.Equal(t, 30.0, s.NeedsReview)

	// Zero config falls back to the defaults.
	d := New(config.DecisionConfig{}).Snapshot(neutralAdjustments())
	assert.Equal(t, 65.0, d.AutoApprove)
	assert.Equal(t, 30.0, d.NeedsReview)
}

func TestDecideSourceMultiplier(t *testing.T) {
	s := New(config.DecisionConfig{AutoApprove: 65, NeedsReview: 30}).Snapshot(&model.ConfidenceAdjustments{
		SuccessRate: 0.5,
		SourceMultipliers: map[string]float64{
			"checkers.co.za": 1.2,
			"sketchy.example": 0.8,
		},
	})

	// 60 * 1.2 = 72, clears the bar a trusted source wouldn't need.
	action, adjusted := s.Decide(60, "checkers.co.za")
	assert.Equal(t, ActionAutoApprove, action)
	assert.InDelta(t, 72.0, adjusted, 1e-9)

	// 70 * 0.8 = 56, knocked below the bar.
	action, adjusted = s.Decide(70, "sketchy.example")
	assert.Equal(t, ActionManualReview, action)
	assert.InDelta(t, 56.0, adjusted, 1e-9)

	// Unknown source: neutral multiplier.
	action, adjusted = s.Decide(70, "other.example")
	assert.Equal(t, ActionAutoApprove, action)
	assert.Equal(t, 70.0, adjusted)
}

func TestDecideAdjustedConfidenceCapped(t *testing.T) {
	s := New(config.DecisionConfig{}).Snapshot(&model.ConfidenceAdjustments{
		SuccessRate:       0.5,
		SourceMultipliers: map[string]float64{"checkers.co.za": 1.2},
	})
	_, adjusted := s.Decide(95, "checkers.co.za")
	assert.Equal(t, 100.0, adjusted)
}

func TestDecideRejectedSourceFloor(t *testing.T) {
	s := New(config.DecisionConfig{}).Snapshot(&model.ConfidenceAdjustments{
		SuccessRate:       0.5,
		SourceMultipliers: map[string]float64{"flagged.example": 1.2},
		RejectedSources:   map[string]int{"flagged.example": 6},
	})

	// 45 would normally land in manual review, but a source with more
	// than five rejections is rejected outright under the floor.
	action, _ := s.Decide(45, "flagged.example")
	assert.Equal(t, ActionAutoReject, action)

	// Adjusted confidence over the floor is judged by the normal bands:
	// 58 * 1.2 = 69.6 auto-approves.
	action, adjusted := s.Decide(58, "flagged.example")
	assert.Equal(t, ActionAutoApprove, action)
	assert.InDelta(t, 69.6, adjusted, 1e-9)

	// Five rejections is not yet flagged.
	few := New(config.DecisionConfig{}).Snapshot(&model.ConfidenceAdjustments{
		SuccessRate:     0.5,
		RejectedSources: map[string]int{"flagged.example": 5},
	})
	action, _ = few.Decide(45, "flagged.example")
	assert.Equal(t, ActionManualReview, action)
}
