// Package waterfall selects which external provider answers an enrichment
// request. Providers are tried one at a time in priority order; rate-limited
// or circuit-broken providers are skipped without waiting, failures fall
// through to the next provider, and only data-bearing answers are charged.
package waterfall

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/resilience"
)

// Charger debits a client for a provider call. *ledger.Ledger satisfies it.
type Charger interface {
	Charge(ctx context.Context, clientID string, req ledger.ChargeRequest) (*model.CreditTransaction, error)
}

// Orchestrator runs the provider waterfall.
type Orchestrator struct {
	registry *provider.Registry
	charger  Charger
	tracker  *Tracker
	breakers *resilience.Breakers
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator. tracker and breakers may be nil.
func NewOrchestrator(registry *provider.Registry, charger Charger, tracker *Tracker, breakers *resilience.Breakers) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		charger:  charger,
		tracker:  tracker,
		breakers: breakers,
		now:      time.Now,
	}
}

// WithNow sets the clock used for provenance, for tests.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// plan returns the providers to try for capability.
func (o *Orchestrator) plan(capability model.Capability, opts Options) []*provider.Entry {
	if len(opts.ProviderOverride) == 0 {
		return o.registry.ForCapability(capability)
	}
	var out []*provider.Entry
	seen := make(map[string]bool, len(opts.ProviderOverride))
	for _, name := range opts.ProviderOverride {
		if seen[name] {
			continue
		}
		seen[name] = true
		e := o.registry.Get(name)
		if e == nil || !e.Supports(capability) {
			zap.L().Debug("waterfall: override provider unusable",
				zap.String("provider", name),
				zap.String("capability", string(capability)),
			)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Execute runs capability through the waterfall for clientID. Provider
// failures never surface as errors; exhausting every provider returns an
// empty result. An insufficient balance aborts the call and the
// *ledger.InsufficientCreditsError is returned together with whatever was
// already gathered and charged.
func (o *Orchestrator) Execute(ctx context.Context, clientID string, capability model.Capability, params provider.Params, opts Options) (*Result, error) {
	if !capability.Valid() {
		return nil, eris.Errorf("waterfall: unknown capability %q", capability)
	}
	log := zap.L().With(
		zap.String("client_id", clientID),
		zap.String("capability", string(capability)),
	)

	res := &Result{ProvidersUsed: []string{}, Charged: money.Zero}
	target := opts.TargetResults
	if target <= 0 {
		target = params.Limit
	}
	acc := newAccumulator(o.now())

	invoked := 0
	for _, e := range o.plan(capability, opts) {
		if opts.MaxProviders > 0 && invoked >= opts.MaxProviders {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "waterfall: cancelled")
		}

		var breaker *resilience.Breaker
		if o.breakers != nil {
			breaker = o.breakers.Get(e.Name)
			if !breaker.Allow() {
				log.Debug("waterfall: circuit open, skipping", zap.String("provider", e.Name))
				res.Attempts = append(res.Attempts, Attempt{Provider: e.Name, Outcome: OutcomeCircuitOpen, Charged: money.Zero})
				continue
			}
		}
		if ok, window := e.Limiter.TryAcquireWindow(); !ok {
			log.Debug("waterfall: rate limited, skipping",
				zap.String("provider", e.Name),
				zap.String("window", window),
			)
			res.Attempts = append(res.Attempts, Attempt{Provider: e.Name, Outcome: OutcomeRateLimited, Charged: money.Zero})
			continue
		}

		invoked++
		env, err := o.call(ctx, e, capability, params)
		if breaker != nil {
			breaker.Record(err != nil)
		}

		switch {
		case err != nil:
			log.Warn("waterfall: provider failed", zap.String("provider", e.Name), zap.Error(err))
			res.Attempts = append(res.Attempts, Attempt{Provider: e.Name, Outcome: OutcomeError, Error: err.Error(), Charged: money.Zero})
			o.tracker.Record(ctx, clientID, e.Name, env, false, money.Zero)
			continue
		case !env.Success || !env.HasData():
			log.Debug("waterfall: provider returned no data",
				zap.String("provider", e.Name),
				zap.String("provider_error", env.Error),
			)
			res.Attempts = append(res.Attempts, Attempt{Provider: e.Name, Outcome: OutcomeNoData, Error: env.Error, Charged: money.Zero})
			o.tracker.Record(ctx, clientID, e.Name, env, false, money.Zero)
			continue
		}

		charged, err := o.charge(ctx, clientID, e, capability, opts.JobID)
		if err != nil {
			var ice *ledger.InsufficientCreditsError
			if errors.As(err, &ice) {
				log.Info("waterfall: insufficient credits, aborting", zap.String("provider", e.Name))
				return res, err
			}
			return res, eris.Wrapf(err, "waterfall: charge %s", e.Name)
		}
		res.Charged = res.Charged.Add(charged)
		res.ProvidersUsed = append(res.ProvidersUsed, e.Name)
		res.Attempts = append(res.Attempts, Attempt{Provider: e.Name, Outcome: OutcomeSuccess, Charged: charged})
		o.tracker.Record(ctx, clientID, e.Name, env, true, charged)

		acc.add(res, e.Name, env)
		log.Debug("waterfall: provider answered",
			zap.String("provider", e.Name),
			zap.String("charged", charged.String()),
		)

		if !capability.IsSearch() {
			break
		}
		if target <= 0 || res.count(capability) >= target {
			break
		}
	}

	if target > 0 && capability.IsSearch() {
		res.truncate(capability, target)
	}
	if res.Empty() {
		log.Info("waterfall: exhausted without data", zap.Int("providers_tried", invoked))
	}
	return res, nil
}

// call invokes one provider under its timeout. A nil envelope with a nil error
// is treated as an empty answer.
func (o *Orchestrator) call(ctx context.Context, e *provider.Entry, capability model.Capability, params provider.Params) (*provider.Envelope, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.CallTimeout())
	defer cancel()

	env, err := e.Adapter.Call(callCtx, capability, params)
	if err != nil {
		return nil, err
	}
	if env == nil {
		return &provider.Envelope{}, nil
	}
	return env, nil
}

// charge bills the declared base cost. Free capabilities are not recorded.
func (o *Orchestrator) charge(ctx context.Context, clientID string, e *provider.Entry, capability model.Capability, jobID string) (money.Decimal, error) {
	cost := e.Cost(capability)
	if !cost.IsPositive() || o.charger == nil {
		return money.Zero, nil
	}
	tx, err := o.charger.Charge(ctx, clientID, ledger.ChargeRequest{
		BaseCost:  cost,
		Source:    e.Name,
		Operation: string(capability),
		JobID:     jobID,
	})
	if err != nil {
		return money.Zero, err
	}
	return tx.Amount.Neg(), nil
}

// accumulator merges provider answers, deduplicating search results.
type accumulator struct {
	at        time.Time
	companies map[string]int
	people    map[string]int
}

func newAccumulator(at time.Time) *accumulator {
	return &accumulator{
		at:        at,
		companies: make(map[string]int),
		people:    make(map[string]int),
	}
}

func (a *accumulator) add(res *Result, source string, env *provider.Envelope) {
	for _, c := range env.Companies {
		c.Domain = model.NormalizeDomain(c.Domain)
		key := c.Domain
		if key == "" {
			key = "name:" + c.Name
		}
		if i, ok := a.companies[key]; ok {
			res.Companies[i].Merge(c, source, a.at)
			continue
		}
		fresh := model.Company{Domain: c.Domain}
		fresh.Merge(c, source, a.at)
		a.companies[key] = len(res.Companies)
		res.Companies = append(res.Companies, fresh)
	}
	for _, p := range env.People {
		key := p.DedupeKey()
		if key == "" {
			key = "name:" + p.DisplayName() + "@" + p.CompanyID
		}
		if i, ok := a.people[key]; ok {
			res.People[i].Merge(p, source, a.at)
			continue
		}
		fresh := model.Contact{}
		fresh.Merge(p, source, a.at)
		a.people[key] = len(res.People)
		res.People = append(res.People, fresh)
	}
	if res.Email == "" && env.Email != "" {
		res.Email = env.Email
	}
	if res.Verification == nil && env.Verification != nil {
		res.Verification = env.Verification
	}
}

func (r *Result) truncate(c model.Capability, n int) {
	switch c {
	case model.CapSearchCompanies:
		if len(r.Companies) > n {
			r.Companies = r.Companies[:n]
		}
	case model.CapSearchPeople:
		if len(r.People) > n {
			r.People = r.People[:n]
		}
	}
}

// EnrichCompany fills in firmographics for a domain.
func (o *Orchestrator) EnrichCompany(ctx context.Context, clientID, domain string, opts Options) (*Result, error) {
	return o.Execute(ctx, clientID, model.CapEnrichCompany, provider.Params{Domain: model.NormalizeDomain(domain)}, opts)
}

// SearchCompanies finds companies matching ICP filters.
func (o *Orchestrator) SearchCompanies(ctx context.Context, clientID string, filters model.ICPFilters, limit int, opts Options) (*Result, error) {
	return o.Execute(ctx, clientID, model.CapSearchCompanies, provider.Params{Filters: &filters, Limit: limit}, opts)
}

// SearchPeople finds contacts matching persona criteria.
func (o *Orchestrator) SearchPeople(ctx context.Context, clientID string, params provider.Params, opts Options) (*Result, error) {
	return o.Execute(ctx, clientID, model.CapSearchPeople, params, opts)
}

// EnrichPerson fills in a contact profile.
func (o *Orchestrator) EnrichPerson(ctx context.Context, clientID string, params provider.Params, opts Options) (*Result, error) {
	return o.Execute(ctx, clientID, model.CapEnrichPerson, params, opts)
}

// FindEmail looks up a work address for a person at a domain.
func (o *Orchestrator) FindEmail(ctx context.Context, clientID, fullName, domain string, opts Options) (*Result, error) {
	return o.Execute(ctx, clientID, model.CapFindEmail, provider.Params{FullName: fullName, Domain: model.NormalizeDomain(domain)}, opts)
}

// VerifyEmail checks deliverability of an address.
func (o *Orchestrator) VerifyEmail(ctx context.Context, clientID, email string, opts Options) (*Result, error) {
	return o.Execute(ctx, clientID, model.CapVerifyEmail, provider.Params{Email: email}, opts)
}
