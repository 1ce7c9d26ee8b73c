package promote

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/scorer"
	"github.com/sells-group/prospect-engine/internal/store"
)

// ContactScope selects the contacts to score.
type ContactScope struct {
	ClientID  string
	ListID    string
	CompanyID string
	PersonaID string
}

// ContactResult summarizes a contact scoring run.
type ContactResult struct {
	Scored         int `json:"scored"`
	SignalsWritten int `json:"signals_written"`
}

// ScoreContacts computes persona fit and career-signal score for each
// contact in scope. The two scores are independent; contacts have no stage.
func (p *Promoter) ScoreContacts(ctx context.Context, scope ContactScope) (*ContactResult, error) {
	var persona *model.Persona
	if scope.PersonaID != "" {
		var err error
		if persona, err = p.store.GetPersona(ctx, scope.PersonaID); err != nil {
			return nil, eris.Wrap(err, "promote: load persona")
		}
	}

	contacts, err := p.store.ListContacts(ctx, store.ContactFilter{
		ClientID:  scope.ClientID,
		CompanyID: scope.CompanyID,
		ListID:    scope.ListID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "promote: list contacts")
	}

	res := &ContactResult{}
	var mu sync.Mutex
	now := p.now().UTC()
	err = p.inWindows(ctx, len(contacts), func(ctx context.Context, i int) error {
		c := &contacts[i]
		active, written, err := p.refreshSignals(ctx, model.ScopeContact, c.ID, p.detector.DetectContact(c))
		if err != nil {
			return err
		}
		fit := scorer.PersonaFit(c, persona).Score
		sig := p.scorer.SignalScore(active, nil, now)
		if err := p.store.UpdateContactScores(ctx, c.ID, fit, sig); err != nil {
			return eris.Wrapf(err, "promote: update contact %s", c.ID)
		}
		mu.Lock()
		defer mu.Unlock()
		res.Scored++
		res.SignalsWritten += written
		return nil
	})
	if err != nil {
		return res, eris.Wrap(err, "promote: score contacts")
	}

	zap.L().Info("promote: contacts scored",
		zap.String("client_id", scope.ClientID),
		zap.Int("scored", res.Scored),
		zap.Int("signals_written", res.SignalsWritten),
	)
	return res, nil
}
