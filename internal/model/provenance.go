package model

import "time"

// SourceRecord is one entry of an entity's provenance trail.
type SourceRecord struct {
	Source         string    `json:"source"`
	FetchedAt      time.Time `json:"fetched_at"`
	FieldsProvided []string  `json:"fields_provided,omitempty"`
}

// AppendSource adds rec to the trail. Records without a source are dropped.
func AppendSource(trail []SourceRecord, rec SourceRecord) []SourceRecord {
	if rec.Source == "" {
		return trail
	}
	return append(trail, rec)
}

// DistinctSources counts the providers that contributed to an entity.
func DistinctSources(trail []SourceRecord) int {
	seen := make(map[string]struct{}, len(trail))
	for _, r := range trail {
		seen[r.Source] = struct{}{}
	}
	return len(seen)
}
