package promote

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
)

const maxConcurrentBatches = 4

// ActivationResult summarizes a market activation run.
type ActivationResult struct {
	Relevance     float64 `json:"relevance"`
	Skipped       bool    `json:"skipped"`
	Candidates    int     `json:"candidates"`
	Activated     int     `json:"activated"`
	Excluded      int     `json:"excluded"`
	FailedBatches int     `json:"failed_batches"`
}

// ActivateMarketSignal promotes TAM companies affected by event into the
// active segment. Nothing moves unless the event's relevance to the client
// reaches the threshold. Each company is then judged in batches; a company
// is activated only when judged affected with enough confidence. A failed
// batch excludes its companies. listID narrows candidates when set.
func (p *Promoter) ActivateMarketSignal(ctx context.Context, clientID, listID string, event signal.MarketEvent) (*ActivationResult, error) {
	log := zap.L().With(zap.String("client_id", clientID), zap.String("event", event.Title))

	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, eris.Wrap(err, "promote: load client")
	}

	res := &ActivationResult{}
	rel, err := p.detector.MarketRelevance(ctx, client, event)
	switch {
	case classify.IsMalformed(err):
		log.Warn("promote: unusable relevance judgment, treating as irrelevant", zap.Error(err))
		res.Skipped = true
		return res, nil
	case err != nil:
		return nil, eris.Wrap(err, "promote: market relevance")
	}
	res.Relevance = rel.Score
	if rel.Score < p.cfg.MarketRelevanceThreshold {
		log.Info("promote: event below relevance threshold",
			zap.Float64("relevance", rel.Score),
			zap.Float64("threshold", p.cfg.MarketRelevanceThreshold),
		)
		res.Skipped = true
		return res, nil
	}

	candidates, err := p.store.ListCompanies(ctx, store.CompanyFilter{ClientID: clientID, ListID: listID, Stage: model.StageTAM})
	if err != nil {
		return nil, eris.Wrap(err, "promote: list candidates")
	}
	res.Candidates = len(candidates)

	verdicts, failed := p.evaluateBatches(ctx, event, candidates)
	res.FailedBatches = failed
	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "promote: activation cancelled")
	}

	var mu sync.Mutex
	err = p.inWindows(ctx, len(candidates), func(ctx context.Context, i int) error {
		c := &candidates[i]
		v, ok := verdicts[c.ID]
		activated := false
		if ok && v.Affected && v.Confidence >= p.cfg.ExposureConfidence {
			var err error
			if activated, err = p.activate(ctx, c, event, v, rel.Score); err != nil {
				return err
			}
		}
		mu.Lock()
		defer mu.Unlock()
		if activated {
			res.Activated++
		} else {
			res.Excluded++
		}
		return nil
	})
	if err != nil {
		return res, eris.Wrap(err, "promote: activate")
	}

	log.Info("promote: market activation complete",
		zap.Int("candidates", res.Candidates),
		zap.Int("activated", res.Activated),
		zap.Int("excluded", res.Excluded),
		zap.Int("failed_batches", res.FailedBatches),
	)
	return res, nil
}

// activate moves one company into the active segment together with its
// exposure signal. When the signal cannot be written the move is undone.
func (p *Promoter) activate(ctx context.Context, c *model.Company, event signal.MarketEvent, v signal.Exposure, relevance float64) (bool, error) {
	moved, err := p.Advance(ctx, c.ID, model.StageTAM)
	if err != nil || !moved {
		return false, err
	}
	sig := p.detector.ExposureSignal(c, event, v, relevance)
	if err := p.store.InsertSignals(ctx, []model.Signal{sig}); err != nil {
		if _, rerr := p.Reset(context.WithoutCancel(ctx), c.ID, model.StageActiveSegment, model.StageTAM); rerr != nil {
			zap.L().Error("promote: could not undo activation", zap.String("company_id", c.ID), zap.Error(rerr))
		}
		return false, eris.Wrapf(err, "promote: write exposure signal %s", c.ID)
	}
	return true, nil
}

// evaluateBatches judges candidates in bounded concurrent batches and returns
// the merged verdicts and the number of failed batches.
func (p *Promoter) evaluateBatches(ctx context.Context, event signal.MarketEvent, candidates []model.Company) (map[string]signal.Exposure, int) {
	var (
		mu       sync.Mutex
		verdicts = make(map[string]signal.Exposure, len(candidates))
		failed   int
	)
	size := p.batchSize()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for start := 0; start < len(candidates); start += size {
		batch := candidates[start:min(start+size, len(candidates))]
		g.Go(func() error {
			got, err := p.detector.EvaluateExposure(gctx, event, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("promote: exposure batch failed, excluding its companies",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				failed++
				return nil
			}
			for id, v := range got {
				verdicts[id] = v
			}
			return nil
		})
	}
	_ = g.Wait()
	return verdicts, failed
}
