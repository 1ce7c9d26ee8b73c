package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/provider"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/internal/waterfall"
)

// enrichOne runs every step for a domain and returns the credits charged.
func (p *Pipeline) enrichOne(ctx context.Context, r *run, domain string) (money.Decimal, error) {
	log := zap.L().With(zap.String("client_id", r.clientID), zap.String("domain", domain))
	spent := money.Zero
	now := p.now().UTC()

	step := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		log.Debug("enrich: step",
			zap.String("step", name),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Bool("ok", err == nil),
		)
		return err
	}

	var company *model.Company
	err := step("company", func() error {
		var err error
		company, err = p.enrichCompany(ctx, r, domain, now, &spent)
		return err
	})
	if err != nil {
		return spent, err
	}

	if r.persona != nil {
		before := spent
		err = step("contacts", func() error {
			return p.enrichContacts(ctx, r, company, now, &spent)
		})
		// Contact spend is saved even when the step failed part way.
		if spent.Cmp(before) > 0 {
			if serr := p.store.UpsertCompany(context.WithoutCancel(ctx), company); serr != nil {
				err = errors.Join(err, eris.Wrapf(serr, "enrich: save spend for %s", domain))
			}
		}
		if err != nil {
			return spent, err
		}
	}

	var active []model.Signal
	err = step("signals", func() error {
		var err error
		active, err = p.refreshSignals(ctx, company, now)
		return err
	})
	if err != nil {
		return spent, err
	}

	err = step("score", func() error {
		ev := p.scorer.Evaluate(company, r.filters, active, scorer.PlanFromStrategy(r.opts.Strategy), now)
		return p.store.UpdateCompanyScores(ctx, company.ID, store.CompanyScores{
			ICPFit:       ev.Composite.Inputs.ICPFit,
			Signal:       ev.Composite.Inputs.Signal,
			Originality:  ev.Composite.Inputs.Originality,
			Intelligence: ev.Composite.Score,
		})
	})
	return spent, eris.Wrapf(err, "enrich: score %s", domain)
}

func (p *Pipeline) waterfallOptions(r *run, c model.Capability) waterfall.Options {
	return waterfall.Options{
		ProviderOverride: r.opts.Strategy.Providers(c),
		JobID:            r.job.ID,
	}
}

// enrichCompany merges the waterfall's answer into the stored record.
func (p *Pipeline) enrichCompany(ctx context.Context, r *run, domain string, now time.Time, spent *money.Decimal) (*model.Company, error) {
	res, err := p.orch.EnrichCompany(ctx, r.clientID, domain, p.waterfallOptions(r, model.CapEnrichCompany))
	if res != nil {
		*spent = spent.Add(res.Charged)
	}
	if err != nil {
		return nil, err
	}

	company, err := p.store.GetCompanyByDomain(ctx, r.clientID, domain)
	var nf *model.NotFoundError
	switch {
	case errors.As(err, &nf):
		company = &model.Company{ClientID: r.clientID, Domain: domain}
	case err != nil:
		return nil, eris.Wrapf(err, "enrich: load %s", domain)
	}
	if len(res.Companies) == 0 {
		if company.ID == "" {
			return nil, ErrNoData
		}
		// Known company, nothing new: keep going with what is stored.
		return company, nil
	}

	absorbCompany(company, res.Companies[0], now)
	company.CreditsSpent = company.CreditsSpent.Add(res.Charged)
	company.EnrichmentScore = company.Completeness()
	if err := p.store.UpsertCompany(ctx, company); err != nil {
		return nil, eris.Wrapf(err, "enrich: save %s", domain)
	}
	return company, nil
}

// enrichContacts finds persona-matching people at the company, fills in
// missing emails, optionally verifies them, and upserts the contacts.
func (p *Pipeline) enrichContacts(ctx context.Context, r *run, company *model.Company, now time.Time, spent *money.Decimal) error {
	limit := r.opts.MaxContacts
	if limit <= 0 {
		limit = defaultMaxContacts
	}
	opts := p.waterfallOptions(r, model.CapSearchPeople)
	opts.TargetResults = limit
	res, err := p.orch.SearchPeople(ctx, r.clientID, provider.Params{
		Domain:      company.Domain,
		CompanyName: company.Name,
		Titles:      r.persona.Titles,
		Seniorities: r.persona.Seniorities,
		Departments: r.persona.Departments,
		Limit:       limit,
	}, opts)
	charge := func(res *waterfall.Result) {
		if res != nil {
			*spent = spent.Add(res.Charged)
			company.CreditsSpent = company.CreditsSpent.Add(res.Charged)
		}
	}
	charge(res)
	if err != nil {
		return err
	}

	for _, person := range res.People {
		person.ClientID = r.clientID
		person.CompanyID = company.ID

		if person.Email == "" && person.DisplayName() != "" {
			found, err := p.orch.FindEmail(ctx, r.clientID, person.DisplayName(), company.Domain, p.waterfallOptions(r, model.CapFindEmail))
			charge(found)
			if err != nil {
				return err
			}
			if found.Email != "" {
				person.Email = found.Email
				person.Sources = model.AppendSource(person.Sources, model.SourceRecord{
					Source: firstOr(found.ProvidersUsed), FetchedAt: now, FieldsProvided: []string{"email"},
				})
			}
		}
		if r.opts.VerifyEmails && person.Email != "" && person.EmailStatus == model.EmailUnchecked {
			checked, err := p.orch.VerifyEmail(ctx, r.clientID, person.Email, p.waterfallOptions(r, model.CapVerifyEmail))
			charge(checked)
			if err != nil {
				return err
			}
			if checked.Verification != nil {
				person.EmailStatus = checked.Verification.Status
			}
		}

		contact := &person
		if key := person.DedupeKey(); key != "" {
			existing, err := p.store.FindContact(ctx, r.clientID, key)
			var nf *model.NotFoundError
			switch {
			case err == nil:
				absorbContact(existing, person, now)
				contact = existing
			case !errors.As(err, &nf):
				return eris.Wrapf(err, "enrich: find contact %s", key)
			}
		}
		if err := p.store.UpsertContact(ctx, contact); err != nil {
			return eris.Wrapf(err, "enrich: save contact at %s", company.Domain)
		}
	}
	return nil
}

// refreshSignals writes newly detected signals and returns the active set.
func (p *Pipeline) refreshSignals(ctx context.Context, company *model.Company, now time.Time) ([]model.Signal, error) {
	existing, err := p.store.ActiveSignals(ctx, model.ScopeCompany, company.ID, now)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: load signals %s", company.Domain)
	}
	fresh := signal.Fresh(existing, p.detector.DetectCompany(company), now)
	if err := p.store.InsertSignals(ctx, fresh); err != nil {
		return nil, eris.Wrapf(err, "enrich: write signals %s", company.Domain)
	}
	return model.ActiveSignals(append(existing, fresh...), now), nil
}

// absorbCompany folds an accumulated waterfall record into the stored one,
// keeping the provenance trail of every provider that answered.
func absorbCompany(dst *model.Company, in model.Company, at time.Time) {
	dst.Merge(in, "", at)
	for _, s := range in.Sources {
		dst.Sources = model.AppendSource(dst.Sources, s)
	}
}

func absorbContact(dst *model.Contact, in model.Contact, at time.Time) {
	dst.Merge(in, "", at)
	for _, s := range in.Sources {
		dst.Sources = model.AppendSource(dst.Sources, s)
	}
}

func firstOr(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
