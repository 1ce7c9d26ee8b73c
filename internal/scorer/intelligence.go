package scorer

import (
	"math"
	"time"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

// SignalScore is the priority-weighted average strength of the active
// signals, keeping only the newest per type and source. Types missing from
// priorities weigh DefaultSignalPriority. No active signals scores 0.
func SignalScore(signals []model.Signal, priorities map[string]float64, now time.Time) float64 {
	return signalScore(signals, priorities, DefaultSignalPriority, now)
}

// SignalScore is the package SignalScore with the configured default priority.
func (s *Scorer) SignalScore(signals []model.Signal, priorities map[string]float64, now time.Time) float64 {
	return signalScore(signals, priorities, s.cfg.DefaultSignalPriority, now)
}

func signalScore(signals []model.Signal, priorities map[string]float64, def float64, now time.Time) float64 {
	var num, den float64
	for _, sig := range model.ActiveSignals(signals, now) {
		w, ok := priorities[sig.SignalType]
		if !ok {
			w = def
		}
		if w <= 0 {
			continue
		}
		num += w * clamp01(sig.SignalStrength)
		den += w
	}
	if den == 0 {
		return 0
	}
	return clamp01(num / den)
}

// OriginalityScore rates how uncommon a record is by the number of distinct
// sources needed to assemble it: 1/sqrt(n), or 0.5 when n is 0.
func OriginalityScore(distinctSources int) float64 {
	if distinctSources <= 0 {
		return neutralScore
	}
	return 1 / math.Sqrt(float64(distinctSources))
}

// CostEfficiency is 1/(1+spent/budget). A non-positive budget counts as 1
// credit; negative spend counts as 0.
func CostEfficiency(spent, budget money.Decimal) float64 {
	b := budget.Float64()
	if b <= 0 {
		b = 1
	}
	sp := spent.Float64()
	if sp < 0 {
		sp = 0
	}
	return 1 / (1 + sp/b)
}

// Inputs are the components of the composite.
type Inputs struct {
	ICPFit         float64
	Signal         float64
	Originality    float64
	CostEfficiency float64
}

// Composite is a weighted intelligence score with its inputs.
type Composite struct {
	Score   float64              `json:"score"`
	Inputs  Inputs               `json:"inputs"`
	Weights model.ScoringWeights `json:"weights"`
}

// Intelligence combines in with weights, renormalized to sum to 1.
func Intelligence(in Inputs, weights model.ScoringWeights) Composite {
	w := weights.Normalize()
	score := w.ICPFit*clamp01(in.ICPFit) +
		w.Signals*clamp01(in.Signal) +
		w.Originality*clamp01(in.Originality) +
		w.CostEfficiency*clamp01(in.CostEfficiency)
	return Composite{Score: clamp01(score), Inputs: in, Weights: w}
}

// PassesFloor reports whether c meets the list floor.
func (c Composite) PassesFloor(floor float64) bool {
	return c.Score >= floor
}
