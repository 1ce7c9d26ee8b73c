package scorer

import (
	"time"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

// Evaluation is the full scoring of one company.
type Evaluation struct {
	ICP       ICPResult `json:"icp"`
	Composite Composite `json:"composite"`
}

// Plan carries the strategy-supplied knobs for Evaluate. A zero Plan falls
// back to the configured defaults.
type Plan struct {
	Weights          model.ScoringWeights
	SignalPriorities map[string]float64
	Budget           money.Decimal
}

// PlanFromStrategy extracts a Plan from st, which may be nil.
func PlanFromStrategy(st *model.Strategy) Plan {
	if st == nil {
		return Plan{}
	}
	return Plan{
		Weights:          st.ScoringWeights,
		SignalPriorities: st.SignalPriorities,
		Budget:           st.MaxBudgetPerCompany,
	}
}

// Evaluate scores c against filters and its signals under plan. An excluded
// company gets a zero composite regardless of other inputs.
func (s *Scorer) Evaluate(c *model.Company, filters model.ICPFilters, signals []model.Signal, plan Plan, now time.Time) Evaluation {
	if c == nil {
		c = &model.Company{}
	}
	icp := s.ScoreICP(c, filters)

	weights := plan.Weights
	if weights.Sum() <= 0 {
		weights = s.cfg.DefaultWeights
	}
	budget := plan.Budget
	if !budget.IsPositive() {
		budget = s.budget
	}
	in := Inputs{
		ICPFit:         icp.Score,
		Signal:         s.SignalScore(signals, plan.SignalPriorities, now),
		Originality:    OriginalityScore(model.DistinctSources(c.Sources)),
		CostEfficiency: CostEfficiency(c.CreditsSpent, budget),
	}
	comp := Intelligence(in, weights)
	if icp.Excluded {
		comp.Score = 0
	}
	return Evaluation{ICP: icp, Composite: comp}
}

// Floor returns the configured intelligence floor, or the default when unset.
func (s *Scorer) Floor() float64 {
	if s.cfg.IntelligenceFloor > 0 {
		return s.cfg.IntelligenceFloor
	}
	return DefaultIntelligenceFloor
}
