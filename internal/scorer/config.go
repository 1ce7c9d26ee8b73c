// Package scorer computes the fit and intelligence scores that rank targets:
// ICP fit from firmographics, signal strength, originality, cost efficiency,
// and their weighted composite. All functions are pure.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
)

// DefaultIntelligenceFloor is the composite score below which a company is
// kept off lists.
const DefaultIntelligenceFloor = 0.3

// DefaultSignalPriority weighs signal types a strategy does not mention.
const DefaultSignalPriority = 0.5

// neutralScore is returned when there is nothing to score.
const neutralScore = 0.5

// DefaultScoringConfig returns a config.ScoringConfig with sensible defaults.
// Dimension weights sum to 100.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		IndustryWeight:      25,
		EmployeeCountWeight: 20,
		GeographyWeight:     15,
		RevenueWeight:       15,
		TechStackWeight:     10,
		FundingStageWeight:  10,
		FoundedYearWeight:   5,

		IntelligenceFloor:     DefaultIntelligenceFloor,
		DefaultSignalPriority: DefaultSignalPriority,
		DefaultWeights: model.ScoringWeights{
			ICPFit:         0.4,
			Signals:        0.3,
			Originality:    0.15,
			CostEfficiency: 0.15,
		},
	}
}

// WeightSum returns the sum of the ICP dimension weights.
func WeightSum(c config.ScoringConfig) float64 {
	return c.IndustryWeight + c.EmployeeCountWeight + c.GeographyWeight +
		c.RevenueWeight + c.TechStackWeight + c.FundingStageWeight + c.FoundedYearWeight
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := []struct {
		name string
		w    float64
	}{
		{"industry_weight", c.IndustryWeight},
		{"employee_count_weight", c.EmployeeCountWeight},
		{"geography_weight", c.GeographyWeight},
		{"revenue_weight", c.RevenueWeight},
		{"tech_stack_weight", c.TechStackWeight},
		{"funding_stage_weight", c.FundingStageWeight},
		{"founded_year_weight", c.FoundedYearWeight},
	}
	for _, w := range weights {
		if w.w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}
	if WeightSum(c) <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}

	if c.IntelligenceFloor < 0 || c.IntelligenceFloor > 1 {
		errs = append(errs, "intelligence_floor must be between 0 and 1")
	}
	if c.DefaultSignalPriority < 0 {
		errs = append(errs, "default_signal_priority must be >= 0")
	}
	dw := c.DefaultWeights
	if dw.ICPFit < 0 || dw.Signals < 0 || dw.Originality < 0 || dw.CostEfficiency < 0 {
		errs = append(errs, "default_weights must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
