package waterfall

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/store"
)

type recordingStats struct {
	mu    sync.Mutex
	calls []store.ProviderCall
	err   error
}

func (r *recordingStats) RecordProviderCall(_ context.Context, call store.ProviderCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.err
}

func TestTracker_Record(t *testing.T) {
	rec := &recordingStats{}
	tr := NewTracker(rec)
	ctx := context.Background()

	emp := 12
	tr.Record(ctx, "c1", "apollo", &provider.Envelope{
		Success:      true,
		Companies:    []model.Company{{Domain: "a.io", Name: "A", EmployeeCount: &emp}},
		QualityScore: 1.7,
	}, true, money.MustParse("1.3"))
	tr.Record(ctx, "c1", "hunter", nil, false, money.Zero)

	require.Len(t, rec.calls, 2)
	ok := rec.calls[0]
	assert.True(t, ok.Success)
	assert.Equal(t, 1.0, ok.Quality, "quality is clamped")
	assert.Equal(t, 2, ok.Fields, "fields counted when not reported")
	assert.True(t, ok.Credits.Equal(money.MustParse("1.3")))

	failed := rec.calls[1]
	assert.False(t, failed.Success)
	assert.Zero(t, failed.Fields)
}

func TestTracker_ErrorsAreSwallowed(t *testing.T) {
	tr := NewTracker(&recordingStats{err: errors.New("db down")})
	tr.Record(context.Background(), "c1", "p", &provider.Envelope{Success: true, FieldsPopulated: 2}, true, money.Zero)

	var nilTracker *Tracker
	nilTracker.Record(context.Background(), "c1", "p", nil, false, money.Zero)
}
