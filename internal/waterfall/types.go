package waterfall

import (
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
)

// Options tunes a single waterfall call.
type Options struct {
	// MaxProviders caps how many providers are invoked; 0 means no cap.
	MaxProviders int
	// ProviderOverride replaces the priority ordering entirely.
	ProviderOverride []string
	// TargetResults stops a search once this many distinct results are held.
	// Zero falls back to the request limit, then to first success.
	TargetResults int
	JobID         string
}

// Outcome classifies one provider attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNoData      Outcome = "no_data"
	OutcomeError       Outcome = "error"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeCircuitOpen Outcome = "circuit_open"
)

// Attempt records what happened with one provider.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Charged  money.Decimal `json:"charged"`
}

// Result is the merged outcome of a waterfall call.
type Result struct {
	Companies    []model.Company        `json:"companies,omitempty"`
	People       []model.Contact        `json:"people,omitempty"`
	Email        string                 `json:"email,omitempty"`
	Verification *provider.Verification `json:"verification,omitempty"`
	// ProvidersUsed lists the providers whose data was kept, in call order.
	ProvidersUsed []string      `json:"providers_used"`
	Charged       money.Decimal `json:"charged"`
	Attempts      []Attempt     `json:"attempts,omitempty"`
}

// Empty reports whether no provider returned data.
func (r *Result) Empty() bool {
	return len(r.ProvidersUsed) == 0
}

func (r *Result) count(c model.Capability) int {
	switch c {
	case model.CapSearchCompanies:
		return len(r.Companies)
	case model.CapSearchPeople:
		return len(r.People)
	}
	return 0
}
