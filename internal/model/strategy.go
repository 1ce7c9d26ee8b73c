package model

import (
	"time"

	"github.com/sells-group/prospect-engine/internal/money"
)

// ScoringWeights weighs the components of the intelligence composite.
type ScoringWeights struct {
	ICPFit         float64 `json:"icp_fit" yaml:"icp_fit" mapstructure:"icp_fit"`
	Signals        float64 `json:"signals" yaml:"signals" mapstructure:"signals"`
	Originality    float64 `json:"originality" yaml:"originality" mapstructure:"originality"`
	CostEfficiency float64 `json:"cost_efficiency" yaml:"cost_efficiency" mapstructure:"cost_efficiency"`
}

// Sum returns the total weight.
func (w ScoringWeights) Sum() float64 {
	return w.ICPFit + w.Signals + w.Originality + w.CostEfficiency
}

// Normalize scales the weights to sum to 1. Negative weights count as zero; an
// all-zero set becomes equal weights.
func (w ScoringWeights) Normalize() ScoringWeights {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	w = ScoringWeights{clamp(w.ICPFit), clamp(w.Signals), clamp(w.Originality), clamp(w.CostEfficiency)}
	sum := w.Sum()
	if sum == 0 {
		return ScoringWeights{0.25, 0.25, 0.25, 0.25}
	}
	return ScoringWeights{w.ICPFit / sum, w.Signals / sum, w.Originality / sum, w.CostEfficiency / sum}
}

// Strategy is a cached, model-generated acquisition plan for a
// (client, ICP, persona) context.
type Strategy struct {
	ContextHash         string                  `json:"context_hash"`
	ClientID            string                  `json:"client_id"`
	ICPID               string                  `json:"icp_id"`
	PersonaID           string                  `json:"persona_id"`
	ProviderPlan        map[Capability][]string `json:"provider_plan"`
	SignalPriorities    map[string]float64      `json:"signal_priorities,omitempty"`
	ScoringWeights      ScoringWeights          `json:"scoring_weights"`
	MaxBudgetPerCompany money.Decimal           `json:"max_budget_per_company"`
	Rationale           string                  `json:"rationale,omitempty"`
	Fallback            bool                    `json:"fallback,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
	ExpiresAt           time.Time               `json:"expires_at"`
}

// Providers returns the planned provider order for a capability.
func (s *Strategy) Providers(c Capability) []string {
	if s == nil {
		return nil
	}
	return s.ProviderPlan[c]
}
