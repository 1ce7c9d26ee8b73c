package model

import (
	"strings"
	"time"

	"github.com/sells-group/prospect-engine/internal/money"
)

// PipelineStage is a company's position in the funnel.
type PipelineStage string

const (
	StageTAM             PipelineStage = "tam"
	StageActiveSegment   PipelineStage = "active_segment"
	StageQualified       PipelineStage = "qualified"
	StageReadyToApproach PipelineStage = "ready_to_approach"
	StageInSequence      PipelineStage = "in_sequence"
	StageConverted       PipelineStage = "converted"
)

var stageOrder = []PipelineStage{
	StageTAM,
	StageActiveSegment,
	StageQualified,
	StageReadyToApproach,
	StageInSequence,
	StageConverted,
}

// Index returns the funnel position of s, or -1 for an unknown stage.
func (s PipelineStage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage one step forward. ok is false at the end of the
// funnel or for an unknown stage.
func (s PipelineStage) Next() (PipelineStage, bool) {
	i := s.Index()
	if i < 0 || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Valid reports whether s is a known stage.
func (s PipelineStage) Valid() bool { return s.Index() >= 0 }

// Company is a target organization owned by a client. Domain is the dedupe key
// within the client.
type Company struct {
	ID                 string         `json:"id"`
	ClientID           string         `json:"client_id"`
	Domain             string         `json:"domain"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Industry           string         `json:"industry,omitempty"`
	EmployeeCount      *int           `json:"employee_count,omitempty"`
	Country            string         `json:"country,omitempty"`
	State              string         `json:"state,omitempty"`
	City               string         `json:"city,omitempty"`
	Revenue            *float64       `json:"revenue,omitempty"`
	TechStack          []string       `json:"tech_stack,omitempty"`
	FundingStage       string         `json:"funding_stage,omitempty"`
	FoundedYear        *int           `json:"founded_year,omitempty"`
	LastFundingAt      *time.Time     `json:"last_funding_at,omitempty"`
	HeadcountGrowthPct *float64       `json:"headcount_growth_pct,omitempty"`
	OpenJobs           *int           `json:"open_jobs,omitempty"`
	Sources            []SourceRecord `json:"sources,omitempty"`
	PipelineStage      PipelineStage  `json:"pipeline_stage"`
	ICPFitScore        float64        `json:"icp_fit_score"`
	SignalScore        float64        `json:"signal_score"`
	OriginalityScore   float64        `json:"originality_score"`
	EnrichmentScore    float64        `json:"enrichment_score"`
	IntelligenceScore  float64        `json:"intelligence_score"`
	CreditsSpent       money.Decimal  `json:"credits_spent"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NormalizeDomain lowercases a domain and strips scheme, "www." and any path.
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return d
}

// PopulatedFields names the firmographic fields that carry a value.
func (c *Company) PopulatedFields() []string {
	var out []string
	add := func(name string, ok bool) {
		if ok {
			out = append(out, name)
		}
	}
	add("name", c.Name != "")
	add("description", c.Description != "")
	add("industry", c.Industry != "")
	add("employee_count", c.EmployeeCount != nil)
	add("country", c.Country != "")
	add("state", c.State != "")
	add("city", c.City != "")
	add("revenue", c.Revenue != nil)
	add("tech_stack", len(c.TechStack) > 0)
	add("funding_stage", c.FundingStage != "")
	add("founded_year", c.FoundedYear != nil)
	add("last_funding_at", c.LastFundingAt != nil)
	add("headcount_growth_pct", c.HeadcountGrowthPct != nil)
	add("open_jobs", c.OpenJobs != nil)
	return out
}

const companyFieldCount = 14

// Completeness is the share of firmographic fields that are populated, in [0,1].
func (c *Company) Completeness() float64 {
	return float64(len(c.PopulatedFields())) / companyFieldCount
}

// Merge folds a provider's view of the company into c and appends the
// provenance record. Descriptive fields are filled only when empty; volatile
// counts (employees, revenue, growth, open jobs) take the fresher value. Scores
// and stage are untouched.
func (c *Company) Merge(in Company, source string, at time.Time) {
	var provided []string
	str := func(dst *string, v, name string) {
		if v != "" && *dst == "" {
			*dst = v
			provided = append(provided, name)
		}
	}
	str(&c.Name, in.Name, "name")
	str(&c.Description, in.Description, "description")
	str(&c.Industry, in.Industry, "industry")
	str(&c.Country, in.Country, "country")
	str(&c.State, in.State, "state")
	str(&c.City, in.City, "city")
	str(&c.FundingStage, in.FundingStage, "funding_stage")

	if in.EmployeeCount != nil {
		c.EmployeeCount = in.EmployeeCount
		provided = append(provided, "employee_count")
	}
	if in.Revenue != nil {
		c.Revenue = in.Revenue
		provided = append(provided, "revenue")
	}
	if in.FoundedYear != nil && c.FoundedYear == nil {
		c.FoundedYear = in.FoundedYear
		provided = append(provided, "founded_year")
	}
	if in.LastFundingAt != nil && (c.LastFundingAt == nil || in.LastFundingAt.After(*c.LastFundingAt)) {
		c.LastFundingAt = in.LastFundingAt
		provided = append(provided, "last_funding_at")
	}
	if in.HeadcountGrowthPct != nil {
		c.HeadcountGrowthPct = in.HeadcountGrowthPct
		provided = append(provided, "headcount_growth_pct")
	}
	if in.OpenJobs != nil {
		c.OpenJobs = in.OpenJobs
		provided = append(provided, "open_jobs")
	}
	if len(in.TechStack) > 0 {
		c.TechStack = mergeStrings(c.TechStack, in.TechStack)
		provided = append(provided, "tech_stack")
	}
	if c.Domain == "" {
		c.Domain = NormalizeDomain(in.Domain)
	}
	c.Sources = AppendSource(c.Sources, SourceRecord{Source: source, FetchedAt: at, FieldsProvided: provided})
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
