package enrich

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/internal/waterfall"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store    *store.SQLiteStore
	ledger   *ledger.Ledger
	registry *provider.Registry
	client   *model.Client
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	c := &model.Client{Name: "LoanCo", MarginPercent: money.Zero, CreditBalance: money.Zero}
	require.NoError(t, st.CreateClient(ctx, c))

	l := ledger.New(st).WithNow(func() time.Time { return testNow })
	if balance != "" {
		_, err := l.AddCredits(ctx, c.ID, money.MustParse(balance), model.TxPurchase, "test")
		require.NoError(t, err)
	}
	return &fixture{store: st, ledger: l, registry: provider.NewRegistry(), client: c}
}

func (f *fixture) register(t *testing.T, name string, cost string, caps []model.Capability, fn func(model.Capability, provider.Params) *provider.Envelope) {
	t.Helper()
	costs := make(map[model.Capability]money.Decimal, len(caps))
	for _, c := range caps {
		costs[c] = money.MustParse(cost)
	}
	err := f.registry.Register(provider.Registration{
		Name: name, Capabilities: caps, Priority: 1, Costs: costs,
	}, provider.AdapterFunc{
		ProviderName: name,
		Fn: func(_ context.Context, c model.Capability, p provider.Params) (*provider.Envelope, error) {
			return fn(c, p), nil
		},
	})
	require.NoError(t, err)
}

func (f *fixture) pipeline(window int) *Pipeline {
	clock := func() time.Time { return testNow }
	orch := waterfall.NewOrchestrator(f.registry, f.ledger, waterfall.NewTracker(f.store), nil).WithNow(clock)
	det := signal.NewDetector(config.SignalsConfig{
		FundingWindowDays:  180,
		HeadcountGrowthPct: 10,
		HiringOpenJobs:     5,
	}, nil).WithNow(clock)
	return New(f.store, orch, scorer.New(scorer.DefaultScoringConfig()), det, config.BatchConfig{WindowSize: window}).WithNow(clock)
}

func firmographics(_ model.Capability, p provider.Params) *provider.Envelope {
	return &provider.Envelope{
		Success: true,
		Companies: []model.Company{{
			Domain:        p.Domain,
			Name:          "Co " + p.Domain,
			Industry:      "Software",
			EmployeeCount: ptr(120),
			Country:       "US",
			OpenJobs:      ptr(12),
		}},
	}
}

func TestRun_EnrichesScoresAndRecordsJob(t *testing.T) {
	f := newFixture(t, "10")
	f.register(t, "clearbit", "1", []model.Capability{model.CapEnrichCompany}, firmographics)

	icp := &model.ICP{ClientID: f.client.ID, Name: "SaaS", Filters: model.ICPFilters{Industries: []string{"software"}}}
	require.NoError(t, f.store.SaveICP(context.Background(), icp))

	job, err := f.pipeline(2).Run(context.Background(), f.client.ID,
		[]string{"https://www.Acme.com/", "acme.com", "globex.com", "initech.com"},
		Options{ICPID: icp.ID})
	require.NoError(t, err)

	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 3, job.Total, "duplicate domains collapse")
	assert.Equal(t, 3, job.Processed)
	assert.Zero(t, job.Failed)
	assert.True(t, job.CreditsCharged.Equal(money.MustParse("3")), job.CreditsCharged.String())
	require.NotNil(t, job.CompletedAt)

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, stored.Status)

	c, err := f.store.GetCompanyByDomain(context.Background(), f.client.ID, "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Software", c.Industry)
	assert.Equal(t, model.StageTAM, c.PipelineStage)
	assert.True(t, c.CreditsSpent.Equal(money.MustParse("1")))
	assert.Positive(t, c.EnrichmentScore)
	assert.Positive(t, c.ICPFitScore)
	assert.Positive(t, c.SignalScore, "hiring signal is scored")
	assert.Positive(t, c.IntelligenceScore)
	require.Len(t, c.Sources, 1)
	assert.Equal(t, "clearbit", c.Sources[0].Source)

	sigs, err := f.store.ActiveSignals(context.Background(), model.ScopeCompany, c.ID, testNow)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, model.SignalHiring, sigs[0].SignalType)

	balance, err := f.ledger.GetBalance(context.Background(), f.client.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(money.MustParse("7")), balance.String())
}

func TestRun_RerunDoesNotDuplicateSignals(t *testing.T) {
	f := newFixture(t, "10")
	f.register(t, "clearbit", "0", []model.Capability{model.CapEnrichCompany}, firmographics)
	p := f.pipeline(5)

	for range 2 {
		_, err := p.Run(context.Background(), f.client.ID, []string{"acme.com"}, Options{})
		require.NoError(t, err)
	}

	c, err := f.store.GetCompanyByDomain(context.Background(), f.client.ID, "acme.com")
	require.NoError(t, err)
	sigs, err := f.store.ActiveSignals(context.Background(), model.ScopeCompany, c.ID, testNow)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
	assert.Len(t, c.Sources, 2, "every answer extends provenance")
}

func TestRun_NoDataIsItemError(t *testing.T) {
	f := newFixture(t, "10")
	f.register(t, "clearbit", "1", []model.Capability{model.CapEnrichCompany}, func(c model.Capability, p provider.Params) *provider.Envelope {
		if p.Domain == "ghost.io" {
			return &provider.Envelope{Success: false, Error: "not found"}
		}
		return firmographics(c, p)
	})

	job, err := f.pipeline(5).Run(context.Background(), f.client.ID, []string{"acme.com", "ghost.io"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.JobPartial, job.Status)
	assert.Equal(t, 2, job.Processed)
	assert.Equal(t, 1, job.Failed)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "ghost.io", job.Errors[0].Key)
	assert.True(t, job.CreditsCharged.Equal(money.MustParse("1")), "failed lookups are free")
}

func TestRun_StopsOnInsufficientCredits(t *testing.T) {
	f := newFixture(t, "1")
	var calls atomic.Int32
	f.register(t, "clearbit", "1", []model.Capability{model.CapEnrichCompany}, func(c model.Capability, p provider.Params) *provider.Envelope {
		calls.Add(1)
		return firmographics(c, p)
	})

	job, err := f.pipeline(1).Run(context.Background(), f.client.ID, []string{"a.com", "b.com", "c.com"}, Options{})
	var ice *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	require.NotNil(t, job)

	assert.Equal(t, int32(2), calls.Load(), "no window starts after the refusal")
	assert.Equal(t, 2, job.Processed)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, model.JobPartial, job.Status)
	assert.True(t, job.CreditsCharged.Equal(money.MustParse("1")))

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPartial, stored.Status)
}

func TestRun_DiscoversContacts(t *testing.T) {
	f := newFixture(t, "20")
	f.register(t, "clearbit", "1", []model.Capability{model.CapEnrichCompany}, firmographics)

	var searched provider.Params
	f.register(t, "apollo", "0.5", []model.Capability{model.CapSearchPeople}, func(_ model.Capability, p provider.Params) *provider.Envelope {
		searched = p
		return &provider.Envelope{Success: true, People: []model.Contact{
			{FullName: "Dana Scully", Title: "VP Sales", LinkedInURL: "https://linkedin.com/in/dscully"},
			{FullName: "Fox Mulder", Title: "Head of Sales", Email: "fox@" + p.Domain},
		}}
	})
	f.register(t, "hunter", "0.25", []model.Capability{model.CapFindEmail, model.CapVerifyEmail}, func(c model.Capability, p provider.Params) *provider.Envelope {
		if c == model.CapFindEmail {
			return &provider.Envelope{Success: true, Email: "dana@" + p.Domain}
		}
		return &provider.Envelope{Success: true, Verification: &provider.Verification{Email: p.Email, Status: model.EmailValid, Score: 0.95}}
	})

	persona := &model.Persona{ClientID: f.client.ID, Name: "Sales leaders", Titles: []string{"VP Sales"}, Seniorities: []string{"vp"}}
	require.NoError(t, f.store.SavePersona(context.Background(), persona))

	job, err := f.pipeline(5).Run(context.Background(), f.client.ID, []string{"acme.com"}, Options{
		PersonaID:    persona.ID,
		MaxContacts:  2,
		VerifyEmails: true,
	})
	require.NoError(t, err)
	assert.Zero(t, job.Failed)

	assert.Equal(t, []string{"VP Sales"}, searched.Titles)
	assert.Equal(t, 2, searched.Limit)

	c, err := f.store.GetCompanyByDomain(context.Background(), f.client.ID, "acme.com")
	require.NoError(t, err)
	contacts, err := f.store.ListContacts(context.Background(), store.ContactFilter{ClientID: f.client.ID, CompanyID: c.ID})
	require.NoError(t, err)
	require.Len(t, contacts, 2)

	byName := map[string]model.Contact{}
	for _, ct := range contacts {
		byName[ct.FullName] = ct
	}
	assert.Equal(t, "dana@acme.com", byName["Dana Scully"].Email)
	assert.Equal(t, model.EmailValid, byName["Dana Scully"].EmailStatus)
	assert.Equal(t, model.EmailValid, byName["Fox Mulder"].EmailStatus)

	// 1 company + 0.5 search + 0.25 find + 2 x 0.25 verify
	want := money.MustParse("2.25")
	assert.True(t, job.CreditsCharged.Equal(want), job.CreditsCharged.String())
	assert.True(t, c.CreditsSpent.Equal(want), c.CreditsSpent.String())
}

func TestRun_ContactStepRefusedKeepsEarlierSpend(t *testing.T) {
	f := newFixture(t, "2.5")
	f.register(t, "clearbit", "1", []model.Capability{model.CapEnrichCompany}, firmographics)
	f.register(t, "apollo", "1", []model.Capability{model.CapSearchPeople}, func(model.Capability, provider.Params) *provider.Envelope {
		return &provider.Envelope{Success: true, People: []model.Contact{{FullName: "Dana Scully", Title: "VP Sales"}}}
	})
	f.register(t, "hunter", "1", []model.Capability{model.CapFindEmail}, func(_ model.Capability, p provider.Params) *provider.Envelope {
		return &provider.Envelope{Success: true, Email: "dana@" + p.Domain}
	})

	persona := &model.Persona{ClientID: f.client.ID, Name: "Sales leaders", Titles: []string{"VP Sales"}}
	require.NoError(t, f.store.SavePersona(context.Background(), persona))

	job, err := f.pipeline(1).Run(context.Background(), f.client.ID, []string{"acme.com"}, Options{PersonaID: persona.ID})
	var ice *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	require.NotNil(t, job)

	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, 1, job.Failed)
	two := money.MustParse("2")
	assert.True(t, job.CreditsCharged.Equal(two), job.CreditsCharged.String())

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreditsCharged.Equal(two), stored.CreditsCharged.String())

	c, err := f.store.GetCompanyByDomain(context.Background(), f.client.ID, "acme.com")
	require.NoError(t, err)
	assert.True(t, c.CreditsSpent.Equal(two), "company and people search spend: %s", c.CreditsSpent)

	balance, err := f.ledger.GetBalance(context.Background(), f.client.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(money.MustParse("0.5")), balance.String())
}

func TestRun_StrategyOverridesProviderOrder(t *testing.T) {
	f := newFixture(t, "10")
	var used []string
	for _, name := range []string{"clearbit", "zoominfo"} {
		f.register(t, name, "1", []model.Capability{model.CapEnrichCompany}, func(c model.Capability, p provider.Params) *provider.Envelope {
			used = append(used, name)
			return firmographics(c, p)
		})
	}

	st := &model.Strategy{ProviderPlan: map[model.Capability][]string{model.CapEnrichCompany: {"zoominfo"}}}
	_, err := f.pipeline(1).Run(context.Background(), f.client.ID, []string{"acme.com"}, Options{Strategy: st})
	require.NoError(t, err)
	assert.Equal(t, []string{"zoominfo"}, used)
}

func TestRun_UnknownICP(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.pipeline(1).Run(context.Background(), f.client.ID, []string{"acme.com"}, Options{ICPID: "missing"})
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDedupeDomains(t *testing.T) {
	got := dedupeDomains([]string{"Acme.com", "http://acme.com/about", "", "  ", "globex.com"})
	assert.Equal(t, []string{"acme.com", "globex.com"}, got)
}
