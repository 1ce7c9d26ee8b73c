package model

import (
	"time"

	"github.com/sells-group/prospect-engine/internal/money"
)

// JobStatus is the lifecycle state of an enrichment job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobPartial   JobStatus = "partial"
	JobFailed    JobStatus = "failed"
)

// ItemError records one failed batch item.
type ItemError struct {
	Key     string    `json:"key"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EnrichmentJob tracks a batch run and its per-item failures.
type EnrichmentJob struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"client_id"`
	Kind           string        `json:"kind"`
	Status         JobStatus     `json:"status"`
	Total          int           `json:"total"`
	Processed      int           `json:"processed"`
	Failed         int           `json:"failed"`
	Errors         []ItemError   `json:"errors,omitempty"`
	CreditsCharged money.Decimal `json:"credits_charged"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Finish sets the terminal status from the counts: failed only when every
// item failed, partial when some did.
func (j *EnrichmentJob) Finish(at time.Time) {
	switch {
	case j.Failed == 0:
		j.Status = JobCompleted
	case j.Failed >= j.Processed && j.Processed > 0:
		j.Status = JobFailed
	default:
		j.Status = JobPartial
	}
	j.CompletedAt = &at
}

// ProviderStat aggregates one provider's performance for a client.
type ProviderStat struct {
	ClientID     string        `json:"client_id"`
	Provider     string        `json:"provider"`
	Calls        int64         `json:"calls"`
	Successes    int64         `json:"successes"`
	AvgQuality   float64       `json:"avg_quality"`
	AvgFields    float64       `json:"avg_fields"`
	CreditsSpent money.Decimal `json:"credits_spent"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SuccessRate returns Successes/Calls, or 0 with no calls.
func (p ProviderStat) SuccessRate() float64 {
	if p.Calls == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Calls)
}
