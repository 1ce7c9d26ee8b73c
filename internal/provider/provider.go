// Package provider defines the uniform interface every external data provider
// is adapted to, the canonical response envelope, and the registry of
// providers with their priorities, costs and rate limits.
package provider

import (
	"context"
	"time"

	"github.com/sells-group/prospect-engine/internal/model"
)

// Params carries the canonical request for any capability. Adapters read the
// fields relevant to the capability and ignore the rest.
type Params struct {
	Domain      string `json:"domain,omitempty"`
	CompanyName string `json:"company_name,omitempty"`

	FullName    string `json:"full_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Email       string `json:"email,omitempty"`

	// Search criteria.
	Filters     *model.ICPFilters `json:"filters,omitempty"`
	Titles      []string          `json:"titles,omitempty"`
	Seniorities []string          `json:"seniorities,omitempty"`
	Departments []string          `json:"departments,omitempty"`
	Domains     []string          `json:"domains,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

// Verification is the outcome of verify_email.
type Verification struct {
	Email  string            `json:"email"`
	Status model.EmailStatus `json:"status"`
	Score  float64           `json:"score,omitempty"`
}

// Envelope is the response shape shared by every adapter.
type Envelope struct {
	Success         bool            `json:"success"`
	Companies       []model.Company `json:"companies,omitempty"`
	People          []model.Contact `json:"people,omitempty"`
	Email           string          `json:"email,omitempty"`
	Verification    *Verification   `json:"verification,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreditsConsumed float64         `json:"credits_consumed,omitempty"`
	FieldsPopulated int             `json:"fields_populated,omitempty"`
	QualityScore    float64         `json:"quality_score,omitempty"`
}

// HasData reports whether the envelope carries anything billable.
func (e *Envelope) HasData() bool {
	if e == nil {
		return false
	}
	return len(e.Companies) > 0 || len(e.People) > 0 || e.Email != "" || e.Verification != nil
}

// Adapter is an external data provider.
type Adapter interface {
	// Name returns the registry name of the provider.
	Name() string
	// Call performs one capability. Transport failures are returned as errors;
	// a provider-side "no match" is an envelope with Success false.
	Call(ctx context.Context, capability model.Capability, params Params) (*Envelope, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, capability model.Capability, params Params) (*Envelope, error)
}

func (a AdapterFunc) Name() string { return a.ProviderName }

func (a AdapterFunc) Call(ctx context.Context, capability model.Capability, params Params) (*Envelope, error) {
	return a.Fn(ctx, capability, params)
}

// DefaultTimeout bounds a single provider call when the registration sets none.
const DefaultTimeout = 20 * time.Second
