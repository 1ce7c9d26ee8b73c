package waterfall

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/ratelimit"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/internal/store"
)

// scripted is an adapter returning a fixed envelope or error and counting calls.
type scripted struct {
	name  string
	env   *provider.Envelope
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Call(ctx context.Context, _ model.Capability, _ provider.Params) (*provider.Envelope, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.env, s.err
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeCharger struct {
	mu       sync.Mutex
	requests []ledger.ChargeRequest
	err      error
}

func (f *fakeCharger) Charge(_ context.Context, clientID string, req ledger.ChargeRequest) (*model.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &model.CreditTransaction{ClientID: clientID, Type: model.TxUsage, Amount: req.BaseCost.Neg()}, nil
}

func (f *fakeCharger) sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.Source)
	}
	return out
}

func companyEnv(domains ...string) *provider.Envelope {
	env := &provider.Envelope{Success: true, QualityScore: 0.9}
	for _, d := range domains {
		env.Companies = append(env.Companies, model.Company{Domain: d, Name: d})
	}
	return env
}

func register(t *testing.T, reg *provider.Registry, a provider.Adapter, priority int, cost string, caps ...model.Capability) {
	t.Helper()
	costs := map[model.Capability]money.Decimal{}
	for _, c := range caps {
		costs[c] = money.MustParse(cost)
	}
	require.NoError(t, reg.Register(provider.Registration{
		Name:         a.Name(),
		Capabilities: caps,
		Priority:     priority,
		Costs:        costs,
	}, a))
}

func TestExecute_FallsThroughFailures(t *testing.T) {
	tests := []struct {
		name string
		p1   *scripted
	}{
		{name: "error", p1: &scripted{name: "p1", err: errors.New("boom")}},
		{name: "unsuccessful", p1: &scripted{name: "p1", env: &provider.Envelope{Success: false, Error: "no match"}}},
		{name: "success without data", p1: &scripted{name: "p1", env: &provider.Envelope{Success: true}}},
		{name: "nil envelope", p1: &scripted{name: "p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := provider.NewRegistry()
			p2 := &scripted{name: "p2", env: companyEnv("acme.io")}
			register(t, reg, tt.p1, 1, "1", model.CapEnrichCompany)
			register(t, reg, p2, 2, "2", model.CapEnrichCompany)
			charger := &fakeCharger{}
			stats := &recordingStats{}

			o := NewOrchestrator(reg, charger, NewTracker(stats), nil)
			res, err := o.EnrichCompany(context.Background(), "c1", "https://www.acme.io", Options{})
			require.NoError(t, err)

			assert.Equal(t, []string{"p2"}, res.ProvidersUsed)
			assert.Equal(t, []string{"p2"}, charger.sources(), "p1 is never charged")
			assert.True(t, res.Charged.Equal(money.MustParse("2")))
			require.Len(t, res.Companies, 1)
			assert.Equal(t, "acme.io", res.Companies[0].Domain)
			require.Len(t, res.Attempts, 2)
			assert.NotEqual(t, OutcomeSuccess, res.Attempts[0].Outcome)
			assert.Equal(t, OutcomeSuccess, res.Attempts[1].Outcome)

			require.Len(t, stats.calls, 2)
			assert.False(t, stats.calls[0].Success)
			assert.True(t, stats.calls[1].Success)
		})
	}
}

func TestExecute_EnrichStopsAtFirstSuccess(t *testing.T) {
	reg := provider.NewRegistry()
	p1 := &scripted{name: "p1", env: companyEnv("a.io")}
	p2 := &scripted{name: "p2", env: companyEnv("a.io")}
	register(t, reg, p1, 1, "1", model.CapEnrichCompany)
	register(t, reg, p2, 2, "1", model.CapEnrichCompany)

	res, err := NewOrchestrator(reg, &fakeCharger{}, nil, nil).EnrichCompany(context.Background(), "c1", "a.io", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, res.ProvidersUsed)
	assert.Equal(t, 0, p2.Calls())
}

func TestExecute_Exhaustion(t *testing.T) {
	reg := provider.NewRegistry()
	register(t, reg, &scripted{name: "p1", err: errors.New("x")}, 1, "1", model.CapFindEmail)
	register(t, reg, &scripted{name: "p2", env: &provider.Envelope{}}, 2, "1", model.CapFindEmail)
	charger := &fakeCharger{}

	res, err := NewOrchestrator(reg, charger, nil, nil).FindEmail(context.Background(), "c1", "Dana Ruiz", "acme.io", Options{})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.NotNil(t, res.ProvidersUsed)
	assert.Empty(t, res.ProvidersUsed)
	assert.Empty(t, charger.sources())
	assert.True(t, res.Charged.IsZero())
}

func TestExecute_SearchAccumulatesAndDedupes(t *testing.T) {
	reg := provider.NewRegistry()
	p1 := &scripted{name: "p1", env: companyEnv("a.io", "b.io")}
	p2 := &scripted{name: "p2", env: companyEnv("www.B.io", "c.io")}
	p3 := &scripted{name: "p3", env: companyEnv("d.io")}
	register(t, reg, p1, 1, "0.1", model.CapSearchCompanies)
	register(t, reg, p2, 2, "0.1", model.CapSearchCompanies)
	register(t, reg, p3, 3, "0.1", model.CapSearchCompanies)

	o := NewOrchestrator(reg, &fakeCharger{}, nil, nil)
	res, err := o.SearchCompanies(context.Background(), "c1", model.ICPFilters{}, 0, Options{TargetResults: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2"}, res.ProvidersUsed)
	require.Len(t, res.Companies, 3)
	assert.Equal(t, "b.io", res.Companies[1].Domain)
	assert.Len(t, res.Companies[1].Sources, 2, "duplicate keeps both provenance records")
	assert.Equal(t, 0, p3.Calls())
}

func TestExecute_RateLimitedProviderSkippedWithoutWaiting(t *testing.T) {
	reg := provider.NewRegistry()
	p1 := &scripted{name: "p1", env: companyEnv("a.io")}
	p2 := &scripted{name: "p2", env: companyEnv("a.io")}
	require.NoError(t, reg.Register(provider.Registration{
		Name: "p1", Priority: 1, Capabilities: []model.Capability{model.CapEnrichCompany},
		RateLimit: ratelimit.Limits{PerDay: 1},
	}, p1))
	register(t, reg, p2, 2, "0", model.CapEnrichCompany)
	o := NewOrchestrator(reg, &fakeCharger{}, nil, nil)

	res, err := o.EnrichCompany(context.Background(), "c1", "a.io", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, res.ProvidersUsed)

	start := time.Now()
	res, err = o.EnrichCompany(context.Background(), "c1", "a.io", Options{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"p2"}, res.ProvidersUsed)
	assert.Equal(t, OutcomeRateLimited, res.Attempts[0].Outcome)
	assert.Equal(t, 1, p1.Calls())
}

func TestExecute_OpenCircuitSkipped(t *testing.T) {
	reg := provider.NewRegistry()
	p1 := &scripted{name: "p1", err: errors.New("down")}
	p2 := &scripted{name: "p2", env: companyEnv("a.io")}
	register(t, reg, p1, 1, "0", model.CapEnrichCompany)
	register(t, reg, p2, 2, "0", model.CapEnrichCompany)
	breakers := resilience.NewBreakers(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour})
	o := NewOrchestrator(reg, &fakeCharger{}, nil, breakers)

	for i := 0; i < 3; i++ {
		_, err := o.EnrichCompany(context.Background(), "c1", "a.io", Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p1.Calls(), "third call skips the open circuit")
	assert.Equal(t, resilience.Open, breakers.Get("p1").State())
}

func TestExecute_ProviderOverrideAndMaxProviders(t *testing.T) {
	reg := provider.NewRegistry()
	a := &scripted{name: "a", err: errors.New("x")}
	b := &scripted{name: "b", err: errors.New("x")}
	c := &scripted{name: "c", env: companyEnv("a.io")}
	register(t, reg, a, 1, "0", model.CapEnrichCompany)
	register(t, reg, b, 2, "0", model.CapEnrichCompany)
	register(t, reg, c, 3, "0", model.CapEnrichCompany)
	o := NewOrchestrator(reg, &fakeCharger{}, nil, nil)

	res, err := o.EnrichCompany(context.Background(), "c1", "a.io", Options{ProviderOverride: []string{"c", "a", "unknown"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.ProvidersUsed)
	assert.Equal(t, 0, a.Calls())

	res, err = o.EnrichCompany(context.Background(), "c1", "a.io", Options{MaxProviders: 2})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, 1, c.Calls(), "c is past the provider cap")
}

func TestExecute_TimeoutIsFailure(t *testing.T) {
	reg := provider.NewRegistry()
	slow := &scripted{name: "slow", env: companyEnv("a.io"), delay: time.Second}
	fast := &scripted{name: "fast", env: companyEnv("a.io")}
	require.NoError(t, reg.Register(provider.Registration{
		Name: "slow", Priority: 1, Capabilities: []model.Capability{model.CapEnrichCompany},
		Timeout: 20 * time.Millisecond,
	}, slow))
	register(t, reg, fast, 2, "0", model.CapEnrichCompany)

	res, err := NewOrchestrator(reg, &fakeCharger{}, nil, nil).EnrichCompany(context.Background(), "c1", "a.io", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, res.ProvidersUsed)
	assert.Equal(t, OutcomeError, res.Attempts[0].Outcome)
}

func TestExecute_InsufficientCreditsAborts(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "wf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	client := &model.Client{Name: "Acme", CreditBalance: money.MustParse("1.00"), MarginPercent: money.MustParse("0")}
	require.NoError(t, st.CreateClient(ctx, client))

	reg := provider.NewRegistry()
	p1 := &scripted{name: "p1", env: companyEnv("a.io", "b.io")}
	p2 := &scripted{name: "p2", env: companyEnv("c.io")}
	register(t, reg, p1, 1, "0.75", model.CapSearchCompanies)
	register(t, reg, p2, 2, "0.75", model.CapSearchCompanies)

	o := NewOrchestrator(reg, ledger.New(st), NewTracker(st), nil)
	res, err := o.SearchCompanies(ctx, client.ID, model.ICPFilters{}, 0, Options{TargetResults: 10})

	var ice *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, []string{"p1"}, res.ProvidersUsed)
	assert.Len(t, res.Companies, 2, "p2's data is dropped with its charge")

	got, err := st.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.True(t, got.CreditBalance.Equal(money.MustParse("0.25")))

	stats, err := st.ListProviderStats(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "p1", stats[0].Provider)
}

func TestExecute_UnknownCapability(t *testing.T) {
	o := NewOrchestrator(provider.NewRegistry(), nil, nil, nil)
	_, err := o.Execute(context.Background(), "c1", "teleport", provider.Params{}, Options{})
	assert.ErrorContains(t, err, "unknown capability")
}

func TestExecute_FreeCapabilityNotCharged(t *testing.T) {
	reg := provider.NewRegistry()
	v := &scripted{name: "v", env: &provider.Envelope{Success: true, Verification: &provider.Verification{Email: "a@b.io", Status: model.EmailValid}}}
	require.NoError(t, reg.Register(provider.Registration{Name: "v", Priority: 1, Capabilities: []model.Capability{model.CapVerifyEmail}}, v))
	charger := &fakeCharger{}

	res, err := NewOrchestrator(reg, charger, nil, nil).VerifyEmail(context.Background(), "c1", "a@b.io", Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Verification)
	assert.Equal(t, model.EmailValid, res.Verification.Status)
	assert.Empty(t, charger.sources())
	assert.Equal(t, []string{"v"}, res.ProvidersUsed)
}
