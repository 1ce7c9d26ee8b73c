// Package listbuild fills a client's list with companies found through the
// provider waterfall, keeping only those whose intelligence score clears the
// configured floor. Rebuilding a list re-scores existing members and
// soft-deletes the ones that no longer qualify.
package listbuild

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/internal/waterfall"
)

const defaultLimit = 25

// Strategist resolves the strategy for a client context.
// *strategy.Generator satisfies it.
type Strategist interface {
	Generate(ctx context.Context, clientID, icpID, personaID string) (*model.Strategy, error)
}

// Options configures one build.
type Options struct {
	// Limit caps the companies requested from search providers.
	Limit int
	// Strategy overrides the generated strategy when set.
	Strategy *model.Strategy
}

// Result summarizes a build.
type Result struct {
	Strategy *model.Strategy `json:"strategy,omitempty"`
	Found    int             `json:"found"`
	Added    int             `json:"added"`
	Kept     int             `json:"kept"`
	Rejected int             `json:"rejected"`
	Removed  int64           `json:"removed"`
	Charged  money.Decimal   `json:"charged"`
}

// Builder builds lists.
type Builder struct {
	store      store.Store
	orch       *waterfall.Orchestrator
	scorer     *scorer.Scorer
	strategist Strategist
	now        func() time.Time
}

// New creates a Builder. strategist may be nil, in which case the registry
// order and default weights are used.
func New(st store.Store, orch *waterfall.Orchestrator, sc *scorer.Scorer, strategist Strategist) *Builder {
	return &Builder{store: st, orch: orch, scorer: sc, strategist: strategist, now: time.Now}
}

// WithNow sets the clock, for tests.
func (b *Builder) WithNow(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build searches for companies matching the list's ICP and updates the
// list's membership. A refused charge stops the search; whatever was found
// before it is still scored and the *ledger.InsufficientCreditsError is
// returned with the result.
func (b *Builder) Build(ctx context.Context, listID string, opts Options) (*Result, error) {
	list, err := b.store.GetList(ctx, listID)
	if err != nil {
		return nil, eris.Wrap(err, "listbuild: load list")
	}
	if list.ICPID == "" {
		return nil, eris.Errorf("listbuild: list %s has no icp", listID)
	}
	icp, err := b.store.GetICP(ctx, list.ICPID)
	if err != nil {
		return nil, eris.Wrap(err, "listbuild: load icp")
	}
	log := zap.L().With(zap.String("client_id", list.ClientID), zap.String("list_id", list.ID))

	st := opts.Strategy
	if st == nil && b.strategist != nil {
		st, err = b.strategist.Generate(ctx, list.ClientID, list.ICPID, list.PersonaID)
		if err != nil {
			return nil, eris.Wrap(err, "listbuild: strategy")
		}
	}
	plan := scorer.PlanFromStrategy(st)

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	res := &Result{Strategy: st, Charged: money.Zero}
	found, searchErr := b.orch.SearchCompanies(ctx, list.ClientID, icp.Filters, limit, waterfall.Options{
		ProviderOverride: st.Providers(model.CapSearchCompanies),
		TargetResults:    limit,
	})
	if found != nil {
		res.Charged = found.Charged
	}
	if searchErr != nil && (found == nil || len(found.Companies) == 0) {
		return res, searchErr
	}

	existing, err := b.store.ListMembers(ctx, listID, false)
	if err != nil {
		return res, eris.Wrap(err, "listbuild: load members")
	}
	current := make(map[string]bool, len(existing))
	for _, m := range existing {
		if m.CompanyID != "" && m.ContactID == "" {
			current[m.CompanyID] = true
		}
	}

	now := b.now().UTC()
	floor := b.scorer.Floor()
	seen := make(map[string]bool)
	var keep []model.ListMember

	consider := func(c *model.Company) error {
		if seen[c.ID] {
			return nil
		}
		seen[c.ID] = true
		ev, err := b.score(ctx, c, icp.Filters, plan, now)
		if err != nil {
			return err
		}
		if ev.ICP.Excluded || ev.Composite.Score < floor {
			res.Rejected++
			log.Debug("listbuild: below floor",
				zap.String("domain", c.Domain),
				zap.Float64("score", ev.Composite.Score),
				zap.String("excluded_by", ev.ICP.ExcludedBy),
			)
			return nil
		}
		if current[c.ID] {
			res.Kept++
		} else {
			res.Added++
		}
		keep = append(keep, member(listID, c.ID, ev, now))
		return nil
	}

	if found != nil {
		res.Found = len(found.Companies)
		for _, in := range found.Companies {
			if in.Domain == "" {
				res.Rejected++
				continue
			}
			c, err := b.absorb(ctx, list.ClientID, in, now)
			if err != nil {
				return res, err
			}
			if err := consider(c); err != nil {
				return res, err
			}
		}
	}

	// Members the search did not return are re-scored from stored data.
	for id := range current {
		if seen[id] {
			continue
		}
		c, err := b.store.GetCompany(ctx, id)
		var nf *model.NotFoundError
		switch {
		case errors.As(err, &nf):
			continue
		case err != nil:
			return res, eris.Wrap(err, "listbuild: load member company")
		}
		if err := consider(c); err != nil {
			return res, err
		}
	}

	if err := b.store.UpsertListMembers(ctx, keep); err != nil {
		return res, eris.Wrap(err, "listbuild: save members")
	}
	kept := make(map[string]bool, len(keep))
	for _, m := range keep {
		kept[m.CompanyID] = true
	}
	var drop []string
	for id := range current {
		if !kept[id] {
			drop = append(drop, id)
		}
	}
	if len(drop) > 0 {
		res.Removed, err = b.store.RemoveListMembers(ctx, listID, drop, now)
		if err != nil {
			return res, eris.Wrap(err, "listbuild: remove members")
		}
	}

	log.Info("listbuild: built",
		zap.Int("found", res.Found),
		zap.Int("added", res.Added),
		zap.Int("kept", res.Kept),
		zap.Int("rejected", res.Rejected),
		zap.Int64("removed", res.Removed),
		zap.String("charged", res.Charged.String()),
	)
	return res, searchErr
}

// absorb merges a search hit into the stored company. New companies start
// at the first funnel stage.
func (b *Builder) absorb(ctx context.Context, clientID string, in model.Company, now time.Time) (*model.Company, error) {
	c, err := b.store.GetCompanyByDomain(ctx, clientID, in.Domain)
	var nf *model.NotFoundError
	switch {
	case errors.As(err, &nf):
		c = &model.Company{ClientID: clientID, Domain: in.Domain}
	case err != nil:
		return nil, eris.Wrapf(err, "listbuild: load %s", in.Domain)
	}
	c.Merge(in, "", now)
	for _, s := range in.Sources {
		c.Sources = model.AppendSource(c.Sources, s)
	}
	c.EnrichmentScore = c.Completeness()
	if err := b.store.UpsertCompany(ctx, c); err != nil {
		return nil, eris.Wrapf(err, "listbuild: save %s", c.Domain)
	}
	return c, nil
}

func (b *Builder) score(ctx context.Context, c *model.Company, filters model.ICPFilters, plan scorer.Plan, now time.Time) (scorer.Evaluation, error) {
	sigs, err := b.store.ActiveSignals(ctx, model.ScopeCompany, c.ID, now)
	if err != nil {
		return scorer.Evaluation{}, eris.Wrapf(err, "listbuild: signals %s", c.Domain)
	}
	ev := b.scorer.Evaluate(c, filters, sigs, plan, now)
	err = b.store.UpdateCompanyScores(ctx, c.ID, store.CompanyScores{
		ICPFit:       ev.Composite.Inputs.ICPFit,
		Signal:       ev.Composite.Inputs.Signal,
		Originality:  ev.Composite.Inputs.Originality,
		Intelligence: ev.Composite.Score,
	})
	return ev, eris.Wrapf(err, "listbuild: scores %s", c.Domain)
}

func member(listID, companyID string, ev scorer.Evaluation, at time.Time) model.ListMember {
	return model.ListMember{
		ListID:            listID,
		CompanyID:         companyID,
		ICPFitScore:       ev.Composite.Inputs.ICPFit,
		SignalScore:       ev.Composite.Inputs.Signal,
		OriginalityScore:  ev.Composite.Inputs.Originality,
		IntelligenceScore: ev.Composite.Score,
		AddedReason:       reason(ev),
		AddedAt:           at,
	}
}

// reason renders a short human summary, e.g. "intelligence 0.62; industry: software".
func reason(ev scorer.Evaluation) string {
	parts := []string{fmt.Sprintf("intelligence %.2f", ev.Composite.Score)}
	parts = append(parts, ev.ICP.Reasons...)
	return strings.Join(parts, "; ")
}
