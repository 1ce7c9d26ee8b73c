package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveSignals(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sig := func(typ, src string, strength float64, detectedDaysAgo, ttlDays int) Signal {
		d := now.AddDate(0, 0, -detectedDaysAgo)
		return Signal{SignalType: typ, Source: src, SignalStrength: strength, DetectedAt: d, ExpiresAt: d.AddDate(0, 0, ttlDays)}
	}

	got := ActiveSignals([]Signal{
		sig(SignalHiring, "rules", 0.5, 10, 30),
		sig(SignalHiring, "rules", 0.7, 2, 30),
		sig(SignalHiring, "jobs", 0.4, 1, 30),
		sig(SignalRecentFunding, "rules", 0.9, 40, 30),
		sig(SignalTechAdoption, "rules", 0.6, 0, 1),
	}, now)

	require.Len(t, got, 3)
	assert.Equal(t, SignalHiring, got[0].SignalType)
	assert.Equal(t, "jobs", got[0].Source)
	assert.Equal(t, "rules", got[1].Source)
	assert.InDelta(t, 0.7, got[1].SignalStrength, 1e-9, "newest per type and source wins")
	assert.Equal(t, SignalTechAdoption, got[2].SignalType)
}

func TestSignal_ActiveAtExpiry(t *testing.T) {
	now := time.Now()
	assert.False(t, Signal{ExpiresAt: now}.Active(now))
	assert.True(t, Signal{ExpiresAt: now.Add(time.Second)}.Active(now))
}

func TestScoringWeights_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ScoringWeights
		want ScoringWeights
	}{
		{"already normalized", ScoringWeights{0.4, 0.3, 0.15, 0.15}, ScoringWeights{0.4, 0.3, 0.15, 0.15}},
		{"scaled", ScoringWeights{2, 2, 0, 0}, ScoringWeights{0.5, 0.5, 0, 0}},
		{"negative clamped", ScoringWeights{1, -1, 1, 0}, ScoringWeights{0.5, 0, 0.5, 0}},
		{"all zero", ScoringWeights{}, ScoringWeights{0.25, 0.25, 0.25, 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			assert.InDelta(t, tt.want.ICPFit, got.ICPFit, 1e-9)
			assert.InDelta(t, tt.want.Signals, got.Signals, 1e-9)
			assert.InDelta(t, tt.want.Originality, got.Originality, 1e-9)
			assert.InDelta(t, tt.want.CostEfficiency, got.CostEfficiency, 1e-9)
			assert.InDelta(t, 1.0, got.Sum(), 1e-9)
		})
	}
}

func TestStrategy_ProvidersNil(t *testing.T) {
	var s *Strategy
	assert.Nil(t, s.Providers(CapEnrichCompany))
}

func TestEnrichmentJob_Finish(t *testing.T) {
	at := time.Now()
	tests := []struct {
		name      string
		processed int
		failed    int
		want      JobStatus
	}{
		{"clean", 3, 0, JobCompleted},
		{"empty", 0, 0, JobCompleted},
		{"some failed", 3, 1, JobPartial},
		{"all failed", 3, 3, JobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &EnrichmentJob{Processed: tt.processed, Failed: tt.failed}
			j.Finish(at)
			assert.Equal(t, tt.want, j.Status)
			require.NotNil(t, j.CompletedAt)
		})
	}
}

func TestCapability(t *testing.T) {
	for _, c := range AllCapabilities {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Capability("scrape").Valid())
	assert.True(t, CapSearchPeople.IsSearch())
	assert.False(t, CapVerifyEmail.IsSearch())
}

func TestDistinctSources(t *testing.T) {
	trail := AppendSource(nil, SourceRecord{Source: "apollo"})
	trail = AppendSource(trail, SourceRecord{Source: ""})
	trail = AppendSource(trail, SourceRecord{Source: "apollo"})
	trail = AppendSource(trail, SourceRecord{Source: "clearbit"})
	assert.Len(t, trail, 3)
	assert.Equal(t, 2, DistinctSources(trail))
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("load: %w", NewNotFound("company", "co1"))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "company", nf.Entity)
	assert.EqualError(t, nf, `company "co1" not found`)
}

func TestIntRange(t *testing.T) {
	r := IntRange{Min: ptr(10), Max: ptr(100)}
	assert.True(t, r.Set())
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(101))
	assert.False(t, IntRange{}.Set())
	assert.True(t, IntRange{}.Contains(-5))
}
