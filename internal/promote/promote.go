// Package promote moves companies through the pipeline stages and scores
// contacts. Forward moves advance one stage at a time and are conditional on
// the stored stage; backward moves happen only through Reset.
package promote

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
)

const (
	// maxEvaluationBatch bounds how many companies share one exposure prompt.
	maxEvaluationBatch = 12
	defaultWindow      = 5
)

// Promoter applies the promotion rules.
type Promoter struct {
	store    store.Store
	scorer   *scorer.Scorer
	detector *signal.Detector
	cfg      config.PromotionConfig
	window   int
	now      func() time.Time
}

// New creates a Promoter. batch sets how many companies or contacts are
// evaluated at once.
func New(st store.Store, sc *scorer.Scorer, det *signal.Detector, cfg config.PromotionConfig, batch config.BatchConfig) *Promoter {
	w := batch.WindowSize
	if w <= 0 {
		w = defaultWindow
	}
	return &Promoter{store: st, scorer: sc, detector: det, cfg: cfg, window: w, now: time.Now}
}

// WithNow sets the clock, for tests.
func (p *Promoter) WithNow(now func() time.Time) *Promoter {
	p.now = now
	return p
}

// Advance moves a company from `from` to the next stage. It reports false
// when the company was no longer at `from`.
func (p *Promoter) Advance(ctx context.Context, companyID string, from model.PipelineStage) (bool, error) {
	to, ok := from.Next()
	if !ok {
		return false, eris.Errorf("promote: no stage after %q", from)
	}
	moved, err := p.store.TransitionStage(ctx, companyID, from, to)
	if err != nil {
		return false, eris.Wrapf(err, "promote: advance %s", companyID)
	}
	return moved, nil
}

// Reset moves a company backward for re-evaluation.
func (p *Promoter) Reset(ctx context.Context, companyID string, from, to model.PipelineStage) (bool, error) {
	if !from.Valid() || !to.Valid() || to.Index() >= from.Index() {
		return false, eris.Errorf("promote: reset must move backward, got %q -> %q", from, to)
	}
	moved, err := p.store.TransitionStage(ctx, companyID, from, to)
	if err != nil {
		return false, eris.Wrapf(err, "promote: reset %s", companyID)
	}
	return moved, nil
}

func (p *Promoter) batchSize() int {
	n := p.cfg.EvaluationBatchSize
	if n <= 0 || n > maxEvaluationBatch {
		return maxEvaluationBatch
	}
	return n
}

// inWindows calls fn for every index below n, at most p.window at a time.
// Each window drains before the next starts; the first error stops the run
// after its window.
func (p *Promoter) inWindows(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	w := p.window
	if w <= 0 {
		w = defaultWindow
	}
	for start := 0; start < n; start += w {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < min(start+w, n); i++ {
			g.Go(func() error { return fn(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
