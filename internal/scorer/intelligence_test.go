package scorer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

func sig(typ, src string, strength float64, detected, expires time.Time) model.Signal {
	return model.Signal{SignalType: typ, Source: src, SignalStrength: strength, DetectedAt: detected, ExpiresAt: expires}
}

func TestSignalScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(24 * time.Hour)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name       string
		signals    []model.Signal
		priorities map[string]float64
		want       float64
	}{
		{name: "none", want: 0},
		{
			name:    "expired excluded",
			signals: []model.Signal{sig(model.SignalHiring, "jobs", 0.9, now.Add(-48*time.Hour), earlier)},
			want:    0,
		},
		{
			name: "weighted average",
			signals: []model.Signal{
				sig(model.SignalRecentFunding, "cb", 1.0, earlier, later),
				sig(model.SignalHiring, "jobs", 0.4, earlier, later),
			},
			priorities: map[string]float64{model.SignalRecentFunding: 3, model.SignalHiring: 1},
			want:       (3*1.0 + 1*0.4) / 4,
		},
		{
			name: "unlisted type uses default priority",
			signals: []model.Signal{
				sig(model.SignalRecentFunding, "cb", 1.0, earlier, later),
				sig(model.SignalTechAdoption, "bw", 0.0, earlier, later),
			},
			priorities: map[string]float64{model.SignalRecentFunding: 0.5},
			want:       0.5,
		},
		{
			name: "newest per type and source wins",
			signals: []model.Signal{
				sig(model.SignalHiring, "jobs", 0.2, now.Add(-2*time.Hour), later),
				sig(model.SignalHiring, "jobs", 0.8, earlier, later),
			},
			want: 0.8,
		},
		{
			name: "zero priority ignored",
			signals: []model.Signal{
				sig(model.SignalHiring, "jobs", 0.2, earlier, later),
				sig(model.SignalRecentFunding, "cb", 0.9, earlier, later),
			},
			priorities: map[string]float64{model.SignalHiring: 0},
			want:       0.9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SignalScore(tt.signals, tt.priorities, now), 1e-9)
		})
	}
}

func TestSignalScore_RevivedByFreshInsert(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := sig(model.SignalHiring, "jobs", 0.7, now.Add(-30*24*time.Hour), now.Add(-time.Hour))
	assert.Zero(t, SignalScore([]model.Signal{stale}, nil, now))

	fresh := sig(model.SignalHiring, "jobs", 0.7, now, now.Add(14*24*time.Hour))
	assert.InDelta(t, 0.7, SignalScore([]model.Signal{stale, fresh}, nil, now), 1e-9)
}

func TestOriginalityScore(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0.5},
		{-1, 0.5},
		{1, 1},
		{4, 0.5},
		{9, 1.0 / 3},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, OriginalityScore(tt.n), 1e-9, "n=%d", tt.n)
	}
}

func TestCostEfficiency(t *testing.T) {
	tests := []struct {
		name          string
		spent, budget string
		want          float64
	}{
		{name: "nothing spent", spent: "0", budget: "5", want: 1},
		{name: "spent budget", spent: "5", budget: "5", want: 0.5},
		{name: "double budget", spent: "10", budget: "5", want: 1.0 / 3},
		{name: "zero budget counts as one", spent: "1", budget: "0", want: 0.5},
		{name: "negative spend", spent: "-3", budget: "5", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CostEfficiency(money.MustParse(tt.spent), money.MustParse(tt.budget))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestIntelligence_RenormalizesWeights(t *testing.T) {
	w := model.ScoringWeights{ICPFit: 0.5, Signals: 0.3, Originality: 0.3, CostEfficiency: 0.3}
	c := Intelligence(Inputs{ICPFit: 1, Signal: 1, Originality: 1, CostEfficiency: 1}, w)

	assert.InDelta(t, 1.0, c.Weights.Sum(), 0.001)
	assert.InDelta(t, 0.5/1.4, c.Weights.ICPFit, 1e-9)
	assert.InDelta(t, 1.0, c.Score, 1e-9)
}

func TestIntelligence_WeightedSum(t *testing.T) {
	w := model.ScoringWeights{ICPFit: 0.4, Signals: 0.3, Originality: 0.15, CostEfficiency: 0.15}
	c := Intelligence(Inputs{ICPFit: 0.8, Signal: 0.5, Originality: 1, CostEfficiency: 0.5}, w)

	want := 0.4*0.8 + 0.3*0.5 + 0.15*1 + 0.15*0.5
	assert.InDelta(t, want, c.Score, 1e-9)
	assert.True(t, c.PassesFloor(DefaultIntelligenceFloor))
}

func TestIntelligence_ZeroWeightsAreEqual(t *testing.T) {
	c := Intelligence(Inputs{ICPFit: 1}, model.ScoringWeights{})
	assert.InDelta(t, 0.25, c.Score, 1e-9)
	assert.False(t, c.PassesFloor(DefaultIntelligenceFloor))
}

func TestIntelligence_ClampsInputs(t *testing.T) {
	c := Intelligence(Inputs{ICPFit: 3, Signal: -1}, model.ScoringWeights{ICPFit: 1, Signals: 1})
	assert.InDelta(t, 0.5, c.Score, 1e-9)
	assert.False(t, math.IsNaN(c.Score))
}
