package strategy

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

const instructions = `You plan B2B data acquisition for a client. Given the client, its ideal customer
profile, the target persona, the available data providers with their costs and capabilities,
and each provider's historical performance for this client, choose:
- provider_plan: for each capability, the providers to try in order (names from the catalog only)
- signal_priorities: weight in [0,1] for each buying signal type that matters for this ICP
  (recent_funding, headcount_growth, hiring, tech_adoption, market_exposure, job_change, promotion)
- scoring_weights: relative weights for icp_fit, signals, originality and cost_efficiency
- max_budget_per_company: credits worth spending to fully build one company record
Prefer providers with high success rates and quality for their cost.`

const shape = `{
  "provider_plan": {"enrich_company": ["provider-a", "provider-b"], "search_people": ["provider-c"]},
  "signal_priorities": {"recent_funding": 0.9, "hiring": 0.6},
  "scoring_weights": {"icp_fit": 0.4, "signals": 0.3, "originality": 0.15, "cost_efficiency": 0.15},
  "max_budget_per_company": 5.0,
  "rationale": "one or two sentences"
}`

// planReply is the model's raw plan.
type planReply struct {
	ProviderPlan        map[string][]string  `json:"provider_plan"`
	SignalPriorities    map[string]float64   `json:"signal_priorities"`
	ScoringWeights      model.ScoringWeights `json:"scoring_weights"`
	MaxBudgetPerCompany *money.Decimal       `json:"max_budget_per_company"`
	Rationale           string               `json:"rationale"`

	weightsPresent bool
}

// UnmarshalJSON records whether scoring_weights was present at all.
func (r *planReply) UnmarshalJSON(b []byte) error {
	type raw planReply
	var fields struct {
		ScoringWeights *model.ScoringWeights `json:"scoring_weights"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var v raw
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = planReply(v)
	r.weightsPresent = fields.ScoringWeights != nil
	return nil
}

// Validate implements classify.Validator.
func (r *planReply) Validate() error {
	if !r.weightsPresent {
		return eris.New("scoring_weights missing")
	}
	w := r.ScoringWeights
	if w.ICPFit < 0 || w.Signals < 0 || w.Originality < 0 || w.CostEfficiency < 0 {
		return eris.New("scoring_weights must be non-negative")
	}
	if w.Sum() <= 0 {
		return eris.New("scoring_weights must not all be zero")
	}
	if r.MaxBudgetPerCompany != nil && r.MaxBudgetPerCompany.IsNegative() {
		return eris.New("max_budget_per_company must be non-negative")
	}
	return nil
}
