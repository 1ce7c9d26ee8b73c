package model

import (
	"sort"
	"time"
)

// SignalScope is the kind of entity a signal is attached to.
type SignalScope string

const (
	ScopeCompany SignalScope = "company"
	ScopeContact SignalScope = "contact"
)

// Well-known signal types.
const (
	SignalRecentFunding   = "recent_funding"
	SignalHeadcountGrowth = "headcount_growth"
	SignalHiring          = "hiring"
	SignalTechAdoption    = "tech_adoption"
	SignalMarketExposure  = "market_exposure"
	SignalJobChange       = "job_change"
	SignalPromotion       = "promotion"
)

// Signal is a time-bounded observation about a company or contact. Rows are
// appended, never updated; expiry is evaluated when read.
type Signal struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"client_id"`
	Scope          SignalScope `json:"scope"`
	EntityID       string      `json:"entity_id"`
	SignalType     string      `json:"signal_type"`
	SignalStrength float64     `json:"signal_strength"`
	Evidence       string      `json:"evidence,omitempty"`
	Source         string      `json:"source"`
	DetectedAt     time.Time   `json:"detected_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// Active reports whether the signal has not expired at now.
func (s Signal) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ActiveSignals drops expired signals and keeps only the newest per
// type and source. The result is ordered by type, then source.
func ActiveSignals(signals []Signal, now time.Time) []Signal {
	type key struct{ typ, src string }
	newest := make(map[key]Signal, len(signals))
	for _, s := range signals {
		if !s.Active(now) {
			continue
		}
		k := key{s.SignalType, s.Source}
		if cur, ok := newest[k]; !ok || s.DetectedAt.After(cur.DetectedAt) {
			newest[k] = s
		}
	}
	out := make([]Signal, 0, len(newest))
	for _, s := range newest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalType != out[j].SignalType {
			return out[i].SignalType < out[j].SignalType
		}
		return out[i].Source < out[j].Source
	})
	return out
}
