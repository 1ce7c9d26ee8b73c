package listbuild

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/internal/waterfall"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.SQLiteStore
	ledger   *ledger.Ledger
	registry *provider.Registry
	client   *model.Client
	list     *model.List
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "lists.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	c := &model.Client{Name: "LoanCo", MarginPercent: money.Zero, CreditBalance: money.Zero}
	require.NoError(t, st.CreateClient(ctx, c))
	l := ledger.New(st).WithNow(func() time.Time { return testNow })
	_, err = l.AddCredits(ctx, c.ID, money.MustParse(balance), model.TxPurchase, "test")
	require.NoError(t, err)

	icp := &model.ICP{ClientID: c.ID, Name: "SaaS", Filters: model.ICPFilters{
		Industries:     []string{"software"},
		ExcludeDomains: []string{"competitor.com"},
	}}
	require.NoError(t, st.SaveICP(ctx, icp))
	list := &model.List{ClientID: c.ID, Name: "Q2", ICPID: icp.ID}
	require.NoError(t, st.CreateList(ctx, list))

	return &fixture{store: st, ledger: l, registry: provider.NewRegistry(), client: c, list: list}
}

func (f *fixture) searchProvider(t *testing.T, name, cost string, companies ...model.Company) *[]provider.Params {
	t.Helper()
	var calls []provider.Params
	err := f.registry.Register(provider.Registration{
		Name:         name,
		Capabilities: []model.Capability{model.CapSearchCompanies},
		Priority:     len(f.registry.List()) + 1,
		Costs:        map[model.Capability]money.Decimal{model.CapSearchCompanies: money.MustParse(cost)},
	}, provider.AdapterFunc{
		ProviderName: name,
		Fn: func(_ context.Context, _ model.Capability, p provider.Params) (*provider.Envelope, error) {
			calls = append(calls, p)
			return &provider.Envelope{Success: true, Companies: companies}, nil
		},
	})
	require.NoError(t, err)
	return &calls
}

func (f *fixture) builder(strategist Strategist) *Builder {
	clock := func() time.Time { return testNow }
	cfg := scorer.DefaultScoringConfig()
	cfg.IntelligenceFloor = 0.5
	orch := waterfall.NewOrchestrator(f.registry, f.ledger, nil, nil).WithNow(clock)
	return New(f.store, orch, scorer.New(cfg), strategist).WithNow(clock)
}

func (f *fixture) seedMember(t *testing.T, domain, industry string) *model.Company {
	t.Helper()
	ctx := context.Background()
	c := &model.Company{ClientID: f.client.ID, Domain: domain, Name: domain, Industry: industry}
	require.NoError(t, f.store.UpsertCompany(ctx, c))
	require.NoError(t, f.store.UpsertListMembers(ctx, []model.ListMember{{ListID: f.list.ID, CompanyID: c.ID, AddedAt: testNow}}))
	return c
}

func (f *fixture) members(t *testing.T, includeRemoved bool) map[string]model.ListMember {
	t.Helper()
	ms, err := f.store.ListMembers(context.Background(), f.list.ID, includeRemoved)
	require.NoError(t, err)
	out := make(map[string]model.ListMember, len(ms))
	for _, m := range ms {
		c, err := f.store.GetCompany(context.Background(), m.CompanyID)
		require.NoError(t, err)
		out[c.Domain] = m
	}
	return out
}

type stubStrategist struct {
	st    *model.Strategy
	err   error
	calls int
}

func (s *stubStrategist) Generate(_ context.Context, _, _, _ string) (*model.Strategy, error) {
	s.calls++
	return s.st, s.err
}

var searchHits = []model.Company{
	{Domain: "acme.com", Name: "Acme", Industry: "Software"},
	{Domain: "shop.com", Name: "Shop", Industry: "Retail"},
	{Domain: "competitor.com", Name: "Rival", Industry: "Software"},
	{Name: "No Domain Inc", Industry: "Software"},
}

func TestBuild_AddsCompaniesAboveFloor(t *testing.T) {
	f := newFixture(t, "10")
	calls := f.searchProvider(t, "apollo", "2", searchHits...)

	res, err := f.builder(nil).Build(context.Background(), f.list.ID, Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Found)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 3, res.Rejected)
	assert.Zero(t, res.Removed)
	assert.True(t, res.Charged.Equal(money.MustParse("2")))
	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"software"}, (*calls)[0].Filters.Industries)
	assert.Equal(t, 10, (*calls)[0].Limit)

	members := f.members(t, false)
	require.Len(t, members, 1)
	m := members["acme.com"]
	assert.InDelta(t, 0.7, m.IntelligenceScore, 1e-9)
	assert.Contains(t, m.AddedReason, "intelligence 0.70")

	// Every hit with a domain is stored, even when rejected.
	for _, d := range []string{"acme.com", "shop.com", "competitor.com"} {
		c, err := f.store.GetCompanyByDomain(context.Background(), f.client.ID, d)
		require.NoError(t, err, d)
		assert.Equal(t, model.StageTAM, c.PipelineStage)
	}
	rival, err := f.store.GetCompanyByDomain(context.Background(), f.client.ID, "competitor.com")
	require.NoError(t, err)
	assert.Zero(t, rival.IntelligenceScore)
}

func TestBuild_RebuildRemovesStaleMembers(t *testing.T) {
	f := newFixture(t, "10")
	f.searchProvider(t, "apollo", "0", searchHits[0])
	f.seedMember(t, "acme.com", "")
	stale := f.seedMember(t, "stale.com", "Retail")
	steady := f.seedMember(t, "steady.com", "Software")

	res, err := f.builder(nil).Build(context.Background(), f.list.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Kept, "acme from search and steady from stored data")
	assert.Equal(t, int64(1), res.Removed)

	active := f.members(t, false)
	assert.Len(t, active, 2)
	assert.NotContains(t, active, "stale.com")

	all := f.members(t, true)
	require.Contains(t, all, "stale.com")
	require.NotNil(t, all["stale.com"].RemovedAt)

	_, err = f.store.GetCompany(context.Background(), stale.ID)
	require.NoError(t, err, "soft delete keeps the company")
	got, err := f.store.GetCompany(context.Background(), steady.ID)
	require.NoError(t, err)
	assert.Positive(t, got.IntelligenceScore)
}

func TestBuild_UsesStrategyProviderPlan(t *testing.T) {
	f := newFixture(t, "10")
	first := f.searchProvider(t, "apollo", "1", searchHits[0])
	second := f.searchProvider(t, "zoominfo", "1", searchHits[0])

	strat := &stubStrategist{st: &model.Strategy{
		ProviderPlan: map[model.Capability][]string{model.CapSearchCompanies: {"zoominfo"}},
	}}
	res, err := f.builder(strat).Build(context.Background(), f.list.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, strat.calls)
	assert.Same(t, strat.st, res.Strategy)
	assert.Empty(t, *first)
	assert.Len(t, *second, 1)
}

func TestBuild_OptionStrategySkipsGenerator(t *testing.T) {
	f := newFixture(t, "10")
	f.searchProvider(t, "apollo", "0", searchHits[0])
	strat := &stubStrategist{err: errors.New("should not be called")}

	_, err := f.builder(strat).Build(context.Background(), f.list.ID, Options{Strategy: &model.Strategy{}})
	require.NoError(t, err)
	assert.Zero(t, strat.calls)
}

func TestBuild_StrategyError(t *testing.T) {
	f := newFixture(t, "10")
	strat := &stubStrategist{err: errors.New("boom")}
	_, err := f.builder(strat).Build(context.Background(), f.list.ID, Options{})
	assert.ErrorContains(t, err, "listbuild: strategy")
}

func TestBuild_InsufficientCredits(t *testing.T) {
	f := newFixture(t, "1")
	f.searchProvider(t, "apollo", "5", searchHits...)

	res, err := f.builder(nil).Build(context.Background(), f.list.ID, Options{})
	var ice *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	require.NotNil(t, res)
	assert.Zero(t, res.Found)
	assert.Empty(t, f.members(t, false))
}

func TestBuild_ListWithoutICP(t *testing.T) {
	f := newFixture(t, "10")
	bare := &model.List{ClientID: f.client.ID, Name: "bare"}
	require.NoError(t, f.store.CreateList(context.Background(), bare))

	_, err := f.builder(nil).Build(context.Background(), bare.ID, Options{})
	assert.ErrorContains(t, err, "has no icp")
}

func TestBuild_UnknownList(t *testing.T) {
	f := newFixture(t, "10")
	_, err := f.builder(nil).Build(context.Background(), "missing", Options{})
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
