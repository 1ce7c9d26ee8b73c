// Package model defines the domain types shared by the engine: clients and their
// credit ledger rows, target companies and contacts, signals, lists, strategies,
// and enrichment jobs.
package model

// Capability is a provider operation. It is also the billable operation name
// recorded on a usage transaction.
type Capability string

const (
	CapSearchCompanies Capability = "search_companies"
	CapEnrichCompany   Capability = "enrich_company"
	CapSearchPeople    Capability = "search_people"
	CapEnrichPerson    Capability = "enrich_person"
	CapFindEmail       Capability = "find_email"
	CapVerifyEmail     Capability = "verify_email"
)

// AllCapabilities lists the closed set of capabilities in a stable order.
var AllCapabilities = []Capability{
	CapSearchCompanies,
	CapEnrichCompany,
	CapSearchPeople,
	CapEnrichPerson,
	CapFindEmail,
	CapVerifyEmail,
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, k := range AllCapabilities {
		if c == k {
			return true
		}
	}
	return false
}

// IsSearch reports whether the capability returns a list that the waterfall
// accumulates across providers.
func (c Capability) IsSearch() bool {
	return c == CapSearchCompanies || c == CapSearchPeople
}
