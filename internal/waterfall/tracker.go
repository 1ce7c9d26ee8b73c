package waterfall

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/store"
)

// StatsRecorder persists provider performance. store.Store satisfies it.
type StatsRecorder interface {
	RecordProviderCall(ctx context.Context, call store.ProviderCall) error
}

// Tracker feeds every waterfall attempt into per-client provider stats. Stats
// are read by the strategy generator; they never reorder the waterfall.
type Tracker struct {
	rec StatsRecorder
}

// NewTracker creates a Tracker. A nil recorder disables tracking.
func NewTracker(rec StatsRecorder) *Tracker {
	return &Tracker{rec: rec}
}

// Record stores one attempt. Failures to record are logged, never returned.
func (t *Tracker) Record(ctx context.Context, clientID, name string, env *provider.Envelope, success bool, charged money.Decimal) {
	if t == nil || t.rec == nil {
		return
	}
	call := store.ProviderCall{
		ClientID: clientID,
		Provider: name,
		Success:  success,
		Credits:  charged,
	}
	if success && env != nil {
		call.Quality = clamp01(env.QualityScore)
		call.Fields = env.FieldsPopulated
		if call.Fields == 0 {
			call.Fields = countFields(env)
		}
	}
	if err := t.rec.RecordProviderCall(context.WithoutCancel(ctx), call); err != nil {
		zap.L().Warn("waterfall: record provider stats",
			zap.String("provider", name),
			zap.String("client_id", clientID),
			zap.Error(err),
		)
	}
}

// countFields estimates populated fields when the provider does not report them.
func countFields(env *provider.Envelope) int {
	n := 0
	for i := range env.Companies {
		n += len(env.Companies[i].PopulatedFields())
	}
	for i := range env.People {
		n += len(env.People[i].PopulatedFields())
	}
	if env.Email != "" {
		n++
	}
	if env.Verification != nil {
		n++
	}
	return n
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
