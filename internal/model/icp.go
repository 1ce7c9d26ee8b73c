package model

import "time"

// IntRange is an inclusive bound; nil ends are open.
type IntRange struct {
	Min *int `json:"min,omitempty" yaml:"min,omitempty"`
	Max *int `json:"max,omitempty" yaml:"max,omitempty"`
}

// Set reports whether either end is bounded.
func (r IntRange) Set() bool { return r.Min != nil || r.Max != nil }

// Contains reports whether v lies within the range.
func (r IntRange) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// FloatRange is an inclusive bound; nil ends are open.
type FloatRange struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Set reports whether either end is bounded.
func (r FloatRange) Set() bool { return r.Min != nil || r.Max != nil }

// Contains reports whether v lies within the range.
func (r FloatRange) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// ICPFilters describes the ideal customer profile used for fit scoring.
type ICPFilters struct {
	Industries        []string   `json:"industries,omitempty" yaml:"industries,omitempty"`
	EmployeeCount     IntRange   `json:"employee_count,omitempty" yaml:"employee_count,omitempty"`
	Geographies       []string   `json:"geographies,omitempty" yaml:"geographies,omitempty"`
	Revenue           FloatRange `json:"revenue,omitempty" yaml:"revenue,omitempty"`
	TechStack         []string   `json:"tech_stack,omitempty" yaml:"tech_stack,omitempty"`
	FundingStages     []string   `json:"funding_stages,omitempty" yaml:"funding_stages,omitempty"`
	FoundedYear       IntRange   `json:"founded_year,omitempty" yaml:"founded_year,omitempty"`
	ExcludeIndustries []string   `json:"exclude_industries,omitempty" yaml:"exclude_industries,omitempty"`
	ExcludeKeywords   []string   `json:"exclude_keywords,omitempty" yaml:"exclude_keywords,omitempty"`
	ExcludeDomains    []string   `json:"exclude_domains,omitempty" yaml:"exclude_domains,omitempty"`
}

// ICP is a client's saved ideal customer profile.
type ICP struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"client_id"`
	Name      string     `json:"name"`
	Filters   ICPFilters `json:"filters"`
	CreatedAt time.Time  `json:"created_at"`
}

// Persona describes the contacts a client wants to reach.
type Persona struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Name        string    `json:"name"`
	Titles      []string  `json:"titles,omitempty"`
	Seniorities []string  `json:"seniorities,omitempty"`
	Departments []string  `json:"departments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
