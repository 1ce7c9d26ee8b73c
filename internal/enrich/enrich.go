// Package enrich runs batch enrichment: each target domain goes through the
// provider waterfall for firmographics, optional contact discovery, signal
// detection and scoring. Targets are processed in bounded windows and every
// run is recorded as a job with per-item errors.
package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/internal/waterfall"
)

// JobKind labels enrichment jobs.
const JobKind = "enrich"

const (
	defaultWindow      = 5
	defaultMaxContacts = 5
)

// ErrNoData marks a target no provider could describe.
var ErrNoData = eris.New("enrich: no provider returned data")

// Options configures one run.
type Options struct {
	// ICPID scores companies against this profile when set.
	ICPID string
	// PersonaID enables contact discovery for this persona when set.
	PersonaID string
	// Strategy supplies provider order, signal priorities, weights and budget.
	Strategy *model.Strategy
	// MaxContacts caps contacts kept per company.
	MaxContacts int
	// VerifyEmails checks deliverability of discovered addresses.
	VerifyEmails bool
}

// Pipeline enriches targets.
type Pipeline struct {
	store    store.Store
	orch     *waterfall.Orchestrator
	scorer   *scorer.Scorer
	detector *signal.Detector
	window   int
	now      func() time.Time
}

// New creates a Pipeline.
func New(st store.Store, orch *waterfall.Orchestrator, sc *scorer.Scorer, det *signal.Detector, cfg config.BatchConfig) *Pipeline {
	w := cfg.WindowSize
	if w <= 0 {
		w = defaultWindow
	}
	return &Pipeline{store: st, orch: orch, scorer: sc, detector: det, window: w, now: time.Now}
}

// WithNow sets the clock, for tests.
func (p *Pipeline) WithNow(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// run carries the state shared by one batch.
type run struct {
	clientID string
	opts     Options
	filters  model.ICPFilters
	persona  *model.Persona
	job      *model.EnrichmentJob

	mu      sync.Mutex
	halted  error
	credits money.Decimal
}

// fail records an item error. charged is whatever the ledger already
// debited for the item before it failed.
func (r *run) fail(key string, err error, charged money.Decimal, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Processed++
	r.job.Failed++
	r.credits = r.credits.Add(charged)
	r.job.Errors = append(r.job.Errors, model.ItemError{Key: key, Message: err.Error(), At: at})
	var ice *ledger.InsufficientCreditsError
	if r.halted == nil && errors.As(err, &ice) {
		r.halted = err
	}
}

func (r *run) succeed(charged money.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Processed++
	r.credits = r.credits.Add(charged)
}

// Run enriches domains for clientID. Windows of targets run concurrently and
// each window finishes before the next starts. When a charge is refused for
// insufficient credits no further windows start; the job is still finished
// and the *ledger.InsufficientCreditsError is returned with it.
func (p *Pipeline) Run(ctx context.Context, clientID string, domains []string, opts Options) (*model.EnrichmentJob, error) {
	log := zap.L().With(zap.String("client_id", clientID), zap.String("phase", "enrich"))

	r := &run{clientID: clientID, opts: opts, credits: money.Zero}
	if err := p.loadProfiles(ctx, r); err != nil {
		return nil, err
	}

	targets := dedupeDomains(domains)
	r.job = &model.EnrichmentJob{
		ID:             uuid.New().String(),
		ClientID:       clientID,
		Kind:           JobKind,
		Status:         model.JobRunning,
		Total:          len(targets),
		CreditsCharged: money.Zero,
		StartedAt:      p.now().UTC(),
	}
	if err := p.store.CreateJob(ctx, r.job); err != nil {
		return nil, eris.Wrap(err, "enrich: create job")
	}
	log = log.With(zap.String("job_id", r.job.ID))
	log.Info("enrich: starting", zap.Int("targets", len(targets)), zap.Int("window", p.window))

	for start := 0; start < len(targets); start += p.window {
		if r.halted != nil || ctx.Err() != nil {
			break
		}
		window := targets[start:min(start+p.window, len(targets))]

		g, gctx := errgroup.WithContext(ctx)
		for _, domain := range window {
			g.Go(func() error {
				charged, err := p.enrichOne(gctx, r, domain)
				if err != nil {
					log.Warn("enrich: target failed", zap.String("domain", domain), zap.Error(err))
					r.fail(domain, err, charged, p.now().UTC())
					return nil
				}
				r.succeed(charged)
				return nil
			})
		}
		_ = g.Wait()

		r.job.CreditsCharged = r.credits
		if err := p.store.UpdateJob(ctx, r.job); err != nil {
			log.Warn("enrich: failed to record progress", zap.Error(err))
		}
	}

	r.job.CreditsCharged = r.credits
	r.job.Finish(p.now().UTC())
	if err := p.store.UpdateJob(context.WithoutCancel(ctx), r.job); err != nil {
		return r.job, eris.Wrap(err, "enrich: finish job")
	}

	log.Info("enrich: complete",
		zap.String("status", string(r.job.Status)),
		zap.Int("processed", r.job.Processed),
		zap.Int("failed", r.job.Failed),
		zap.String("credits", r.credits.String()),
	)
	if r.halted != nil {
		return r.job, r.halted
	}
	if err := ctx.Err(); err != nil {
		return r.job, eris.Wrap(err, "enrich: cancelled")
	}
	return r.job, nil
}

func (p *Pipeline) loadProfiles(ctx context.Context, r *run) error {
	if r.opts.ICPID != "" {
		icp, err := p.store.GetICP(ctx, r.opts.ICPID)
		if err != nil {
			return eris.Wrap(err, "enrich: load icp")
		}
		r.filters = icp.Filters
	}
	if r.opts.PersonaID != "" {
		persona, err := p.store.GetPersona(ctx, r.opts.PersonaID)
		if err != nil {
			return eris.Wrap(err, "enrich: load persona")
		}
		r.persona = persona
	}
	return nil
}

func dedupeDomains(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		n := model.NormalizeDomain(d)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
