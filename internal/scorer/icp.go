package scorer

import (
	"fmt"
	"strings"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
)

// Dimension names used in ICPResult.Breakdown.
const (
	DimIndustry      = "industry"
	DimEmployeeCount = "employee_count"
	DimGeography     = "geography"
	DimRevenue       = "revenue"
	DimTechStack     = "tech_stack"
	DimFundingStage  = "funding_stage"
	DimFoundedYear   = "founded_year"
)

// ReasonNoData is the single reason given when no configured dimension could
// be evaluated.
const ReasonNoData = "No scoreable data for configured filter dimensions"

// ReasonExcluded is the single reason given for a hard exclusion.
const ReasonExcluded = "excluded"

// ICPResult is the outcome of scoring a company against ICP filters.
type ICPResult struct {
	Score      float64            `json:"score"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Reasons    []string           `json:"reasons"`
	Excluded   bool               `json:"excluded"`
	ExcludedBy string             `json:"excluded_by,omitempty"`
}

// Scorer holds the dimension weights and defaults.
type Scorer struct {
	cfg    config.ScoringConfig
	budget money.Decimal
}

// DefaultBudget is the per-company credit budget used for cost efficiency
// when neither the plan nor WithBudget sets one.
var DefaultBudget = money.FromInt(5)

// New creates a Scorer from cfg.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, budget: DefaultBudget}
}

// WithBudget sets the per-company budget used when a plan carries none.
// Non-positive values are ignored.
func (s *Scorer) WithBudget(b money.Decimal) *Scorer {
	if b.IsPositive() {
		s.budget = b
	}
	return s
}

// Config returns the scoring configuration.
func (s *Scorer) Config() config.ScoringConfig { return s.cfg }

// ScoreICP scores c against filters with the default dimension weights.
func ScoreICP(c *model.Company, filters model.ICPFilters) ICPResult {
	return New(DefaultScoringConfig()).ScoreICP(c, filters)
}

// dimension is one scoreable ICP criterion. eval reports the match in [0,1]
// and whether the company has data for it.
type dimension struct {
	name   string
	weight float64
	active bool
	eval   func() (match float64, known bool, detail string)
}

// ScoreICP scores c against filters. Hard exclusions veto to 0. Dimensions
// that are unconfigured, zero-weighted, or unknown for c are skipped; when
// none remain the score is a neutral 0.5.
func (s *Scorer) ScoreICP(c *model.Company, filters model.ICPFilters) ICPResult {
	res := ICPResult{Breakdown: map[string]float64{}}
	if c == nil {
		c = &model.Company{}
	}

	if by := exclusion(c, filters); by != "" {
		res.Excluded = true
		res.ExcludedBy = by
		res.Reasons = []string{ReasonExcluded}
		return res
	}

	dims := []dimension{
		{DimIndustry, s.cfg.IndustryWeight, len(filters.Industries) > 0, func() (float64, bool, string) {
			if c.Industry == "" {
				return 0, false, ""
			}
			if m, ok := matchIndustry(filters.Industries, c.Industry); ok {
				return 1, true, "industry matches " + m
			}
			return 0, true, fmt.Sprintf("industry %q not targeted", c.Industry)
		}},
		{DimEmployeeCount, s.cfg.EmployeeCountWeight, filters.EmployeeCount.Set(), func() (float64, bool, string) {
			if c.EmployeeCount == nil {
				return 0, false, ""
			}
			if filters.EmployeeCount.Contains(*c.EmployeeCount) {
				return 1, true, fmt.Sprintf("%d employees in range", *c.EmployeeCount)
			}
			return 0, true, fmt.Sprintf("%d employees out of range", *c.EmployeeCount)
		}},
		{DimGeography, s.cfg.GeographyWeight, len(filters.Geographies) > 0, func() (float64, bool, string) {
			if c.Country == "" && c.State == "" && c.City == "" {
				return 0, false, ""
			}
			if g, ok := matchGeography(filters.Geographies, c); ok {
				return 1, true, "located in " + g
			}
			return 0, true, "location not targeted"
		}},
		{DimRevenue, s.cfg.RevenueWeight, filters.Revenue.Set(), func() (float64, bool, string) {
			if c.Revenue == nil {
				return 0, false, ""
			}
			if filters.Revenue.Contains(*c.Revenue) {
				return 1, true, "revenue in range"
			}
			return 0, true, "revenue out of range"
		}},
		{DimTechStack, s.cfg.TechStackWeight, len(filters.TechStack) > 0, func() (float64, bool, string) {
			if len(c.TechStack) == 0 {
				return 0, false, ""
			}
			hits := techOverlap(filters.TechStack, c.TechStack)
			frac := float64(len(hits)) / float64(distinctCount(filters.TechStack))
			if len(hits) == 0 {
				return 0, true, "no targeted technologies"
			}
			return frac, true, "uses " + strings.Join(hits, ", ")
		}},
		{DimFundingStage, s.cfg.FundingStageWeight, len(filters.FundingStages) > 0, func() (float64, bool, string) {
			if c.FundingStage == "" {
				return 0, false, ""
			}
			if m, ok := containsNormalized(filters.FundingStages, c.FundingStage); ok {
				return 1, true, "funding stage " + m
			}
			return 0, true, fmt.Sprintf("funding stage %q not targeted", c.FundingStage)
		}},
		{DimFoundedYear, s.cfg.FoundedYearWeight, filters.FoundedYear.Set(), func() (float64, bool, string) {
			if c.FoundedYear == nil {
				return 0, false, ""
			}
			if filters.FoundedYear.Contains(*c.FoundedYear) {
				return 1, true, fmt.Sprintf("founded %d", *c.FoundedYear)
			}
			return 0, true, fmt.Sprintf("founded %d out of range", *c.FoundedYear)
		}},
	}

	var num, den float64
	for _, d := range dims {
		if !d.active || d.weight <= 0 {
			continue
		}
		match, known, detail := d.eval()
		if !known {
			continue
		}
		res.Breakdown[d.name] = match
		num += match * d.weight
		den += d.weight
		if detail != "" {
			res.Reasons = append(res.Reasons, detail)
		}
	}

	if den == 0 {
		res.Score = neutralScore
		res.Reasons = []string{ReasonNoData}
		return res
	}
	res.Score = clamp01(num / den)
	return res
}

// exclusion returns the rule that vetoes c, or "".
func exclusion(c *model.Company, f model.ICPFilters) string {
	if c.Industry != "" {
		if m, ok := matchIndustry(f.ExcludeIndustries, c.Industry); ok {
			return "industry:" + m
		}
	}
	if hits := matchKeywords(f.ExcludeKeywords, c.Name, c.Description); len(hits) > 0 {
		return "keyword:" + hits[0]
	}
	if d := model.NormalizeDomain(c.Domain); d != "" {
		for _, ex := range f.ExcludeDomains {
			x := model.NormalizeDomain(ex)
			if x != "" && (d == x || strings.HasSuffix(d, "."+x)) {
				return "domain:" + x
			}
		}
	}
	return ""
}

// matchIndustry matches exactly after normalization, or on a whole-word
// phrase so "saas" matches "B2B SaaS".
func matchIndustry(targets []string, industry string) (string, bool) {
	if m, ok := containsNormalized(targets, industry); ok {
		return m, true
	}
	if hits := matchKeywords(targets, industry); len(hits) > 0 {
		return hits[0], true
	}
	return "", false
}

// matchGeography compares each target as a country, a region, and a city.
func matchGeography(targets []string, c *model.Company) (string, bool) {
	country := normalizeCountry(c.Country)
	region := normalizeRegion(c.State)
	city := normalizeText(c.City)
	for _, g := range targets {
		if country != "" && normalizeCountry(g) == country {
			return g, true
		}
		if region != "" && normalizeRegion(g) == region {
			return g, true
		}
		if city != "" && normalizeText(g) == city {
			return g, true
		}
	}
	return "", false
}

// techOverlap returns the targeted technologies present in stack.
func techOverlap(targets, stack []string) []string {
	have := make(map[string]bool, len(stack))
	for _, t := range stack {
		have[normalizeText(t)] = true
	}
	var hits []string
	seen := map[string]bool{}
	for _, t := range targets {
		n := normalizeText(t)
		if have[n] && !seen[n] {
			seen[n] = true
			hits = append(hits, t)
		}
	}
	return hits
}

func distinctCount(vals []string) int {
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		if n := normalizeText(v); n != "" {
			seen[n] = true
		}
	}
	if len(seen) == 0 {
		return 1
	}
	return len(seen)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
