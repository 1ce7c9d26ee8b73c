package promote

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/signal"
	"github.com/sells-group/prospect-engine/internal/store"
)

// QualifyResult summarizes a list qualification run.
type QualifyResult struct {
	Evaluated      int `json:"evaluated"`
	Promoted       int `json:"promoted"`
	Kept           int `json:"kept"`
	Reset          int `json:"reset"`
	SignalsWritten int `json:"signals_written"`
}

type verdict int

const (
	unchanged verdict = iota
	promoted
	kept
	reset
)

// QualifyList re-evaluates the active-segment and qualified members of a
// list. Fresh signals are detected for each company; a company whose active
// signals pass any rule ends up qualified and one that no longer passes is
// reset to the active segment. Each company's move is applied on its own, so
// a run that stops part way leaves the untouched companies where they were.
// Running it twice on unchanged data leaves the same companies qualified.
func (p *Promoter) QualifyList(ctx context.Context, listID string) (*QualifyResult, error) {
	list, err := p.store.GetList(ctx, listID)
	if err != nil {
		return nil, eris.Wrap(err, "promote: load list")
	}
	log := zap.L().With(zap.String("client_id", list.ClientID), zap.String("list_id", listID))

	var companies []model.Company
	for _, stage := range []model.PipelineStage{model.StageActiveSegment, model.StageQualified} {
		found, err := p.store.ListCompanies(ctx, store.CompanyFilter{ClientID: list.ClientID, ListID: listID, Stage: stage})
		if err != nil {
			return nil, eris.Wrapf(err, "promote: list %s companies", stage)
		}
		companies = append(companies, found...)
	}

	res := &QualifyResult{}
	var mu sync.Mutex
	now := p.now().UTC()
	err = p.inWindows(ctx, len(companies), func(ctx context.Context, i int) error {
		v, written, err := p.qualifyOne(ctx, &companies[i], now)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		res.Evaluated++
		res.SignalsWritten += written
		switch v {
		case promoted:
			res.Promoted++
		case kept:
			res.Kept++
		case reset:
			res.Reset++
		}
		return nil
	})
	if err != nil {
		return res, eris.Wrapf(err, "promote: qualify list %s", listID)
	}

	log.Info("promote: list qualification complete",
		zap.Int("evaluated", res.Evaluated),
		zap.Int("promoted", res.Promoted),
		zap.Int("kept", res.Kept),
		zap.Int("reset", res.Reset),
		zap.Int("signals_written", res.SignalsWritten),
	)
	return res, nil
}

// qualifyOne refreshes one company's signals and score and moves it to
// where the rules put it.
func (p *Promoter) qualifyOne(ctx context.Context, c *model.Company, now time.Time) (verdict, int, error) {
	active, written, err := p.refreshSignals(ctx, model.ScopeCompany, c.ID, p.detector.DetectCompany(c))
	if err != nil {
		return unchanged, 0, err
	}
	score := p.scorer.SignalScore(active, nil, now)
	if err := p.store.UpdateCompanyScores(ctx, c.ID, store.CompanyScores{
		ICPFit:       c.ICPFitScore,
		Signal:       score,
		Originality:  c.OriginalityScore,
		Intelligence: c.IntelligenceScore,
	}); err != nil {
		return unchanged, written, eris.Wrapf(err, "promote: update scores %s", c.ID)
	}

	pass := p.qualifies(active, score)
	var moved bool
	switch {
	case c.PipelineStage == model.StageQualified && pass:
		return kept, written, nil
	case c.PipelineStage == model.StageQualified:
		moved, err = p.Reset(ctx, c.ID, model.StageQualified, model.StageActiveSegment)
		if moved {
			return reset, written, err
		}
	case pass:
		moved, err = p.Advance(ctx, c.ID, model.StageActiveSegment)
		if moved {
			return promoted, written, err
		}
	}
	return unchanged, written, err
}

// qualifies applies the promotion rules: one strong signal, enough
// moderately strong signals, or a high aggregate score.
func (p *Promoter) qualifies(active []model.Signal, aggregate float64) bool {
	pairs := 0
	for _, s := range active {
		if s.SignalStrength >= p.cfg.SingleSignalStrength {
			return true
		}
		if s.SignalStrength >= p.cfg.PairSignalStrength {
			pairs++
		}
	}
	if p.cfg.PairSignalCount > 0 && pairs >= p.cfg.PairSignalCount {
		return true
	}
	return len(active) > 0 && aggregate >= p.cfg.AggregateSignalScore
}

// refreshSignals stores the detected signals not already covered and returns
// the entity's active signals afterwards.
func (p *Promoter) refreshSignals(ctx context.Context, scope model.SignalScope, entityID string, detected []model.Signal) ([]model.Signal, int, error) {
	now := p.now().UTC()
	existing, err := p.store.ActiveSignals(ctx, scope, entityID, now)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "promote: load signals %s", entityID)
	}
	fresh := signal.Fresh(existing, detected, now)
	if err := p.store.InsertSignals(ctx, fresh); err != nil {
		return nil, 0, eris.Wrapf(err, "promote: write signals %s", entityID)
	}
	return model.ActiveSignals(append(existing, fresh...), now), len(fresh), nil
}
