// Package ledger meters provider usage against a client's prepaid credit
// balance. Every balance change appends exactly one transaction row in the same
// storage transaction, and a charge that would take the balance below zero is
// rejected whole.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/money"
	"github.com/sells-group/prospect-engine/internal/store"
)

// Store is the slice of store.Store the ledger needs.
type Store interface {
	GetClient(ctx context.Context, id string) (*model.Client, error)
	ApplyCreditMutation(ctx context.Context, clientID string, mutate store.CreditMutation) (*model.CreditTransaction, error)
	ListTransactions(ctx context.Context, clientID string, limit int) ([]model.CreditTransaction, error)
}

// InsufficientCreditsError is returned when a charge exceeds the balance.
type InsufficientCreditsError struct {
	Required  money.Decimal
	Available money.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("ledger: insufficient credits: required %s, available %s", e.Required, e.Available)
}

// ChargeRequest describes one billable provider call.
type ChargeRequest struct {
	BaseCost money.Decimal
	// MarginPercent overrides the client's configured margin when set.
	MarginPercent *money.Decimal
	Source        string
	Operation     string
	JobID         string
}

// amountPlaces matches the NUMERIC(20,4) columns.
const amountPlaces = 4

var hundred = money.FromInt(100)

// Ledger is the only writer of client balances.
type Ledger struct {
	store Store
	now   func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a Ledger over s.
func New(s Store) *Ledger {
	return &Ledger{
		store:   s,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// WithNow sets the clock, for tests.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// newID returns a time-ordered transaction id.
func (l *Ledger) newID(at time.Time) string {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), l.entropy).String()
}

// TotalCharge applies a margin percentage to a base cost.
func TotalCharge(base, marginPercent money.Decimal) (total, margin money.Decimal) {
	margin = base.Mul(marginPercent).Div(hundred).Round(amountPlaces)
	return base.Add(margin).Round(amountPlaces), margin
}

// Charge debits baseCost plus margin from the client. On insufficient credits
// nothing is written and an *InsufficientCreditsError is returned.
func (l *Ledger) Charge(ctx context.Context, clientID string, req ChargeRequest) (*model.CreditTransaction, error) {
	if req.BaseCost.IsNegative() {
		return nil, eris.Errorf("ledger: negative base cost %s", req.BaseCost)
	}
	base := req.BaseCost.Round(amountPlaces)

	tx, err := l.store.ApplyCreditMutation(ctx, clientID, func(c model.Client) (*model.CreditTransaction, error) {
		marginPct := c.MarginPercent
		if req.MarginPercent != nil {
			marginPct = *req.MarginPercent
		}
		total, margin := TotalCharge(base, marginPct)
		after := c.CreditBalance.Sub(total)
		if after.IsNegative() {
			return nil, &InsufficientCreditsError{Required: total, Available: c.CreditBalance}
		}
		now := l.now().UTC()
		return &model.CreditTransaction{
			ID:           l.newID(now),
			Type:         model.TxUsage,
			Amount:       total.Neg(),
			BaseCost:     &base,
			MarginAmount: &margin,
			BalanceAfter: after,
			Source:       req.Source,
			Operation:    req.Operation,
			JobID:        req.JobID,
			CreatedAt:    now,
		}, nil
	})
	if err != nil {
		var ice *InsufficientCreditsError
		if errors.As(err, &ice) {
			zap.L().Info("ledger: charge rejected",
				zap.String("client_id", clientID),
				zap.String("source", req.Source),
				zap.String("required", ice.Required.String()),
				zap.String("available", ice.Available.String()),
			)
			return nil, err
		}
		return nil, eris.Wrapf(err, "ledger: charge %s", clientID)
	}

	zap.L().Debug("ledger: charged",
		zap.String("client_id", clientID),
		zap.String("source", req.Source),
		zap.String("operation", req.Operation),
		zap.String("amount", tx.Amount.String()),
		zap.String("balance_after", tx.BalanceAfter.String()),
	)
	return tx, nil
}

// AddCredits credits a positive amount as a purchase, adjustment or refund
// and returns the new balance.
func (l *Ledger) AddCredits(ctx context.Context, clientID string, amount money.Decimal, typ model.TransactionType, note string) (money.Decimal, error) {
	if !amount.IsPositive() {
		return money.Zero, eris.Errorf("ledger: amount must be positive, got %s", amount)
	}
	switch typ {
	case model.TxPurchase, model.TxAdjustment, model.TxRefund:
	default:
		return money.Zero, eris.Errorf("ledger: cannot add credits as %q", typ)
	}
	amount = amount.Round(amountPlaces)

	tx, err := l.store.ApplyCreditMutation(ctx, clientID, func(c model.Client) (*model.CreditTransaction, error) {
		now := l.now().UTC()
		return &model.CreditTransaction{
			ID:           l.newID(now),
			Type:         typ,
			Amount:       amount,
			BalanceAfter: c.CreditBalance.Add(amount),
			Note:         note,
			CreatedAt:    now,
		}, nil
	})
	if err != nil {
		return money.Zero, eris.Wrapf(err, "ledger: add credits %s", clientID)
	}
	zap.L().Info("ledger: credits added",
		zap.String("client_id", clientID),
		zap.String("type", string(typ)),
		zap.String("amount", amount.String()),
		zap.String("balance", tx.BalanceAfter.String()),
	)
	return tx.BalanceAfter, nil
}

// GetBalance returns the client's current balance.
func (l *Ledger) GetBalance(ctx context.Context, clientID string) (money.Decimal, error) {
	c, err := l.store.GetClient(ctx, clientID)
	if err != nil {
		return money.Zero, eris.Wrapf(err, "ledger: balance %s", clientID)
	}
	return c.CreditBalance, nil
}

// History returns the newest transactions first.
func (l *Ledger) History(ctx context.Context, clientID string, limit int) ([]model.CreditTransaction, error) {
	txs, err := l.store.ListTransactions(ctx, clientID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: history %s", clientID)
	}
	return txs, nil
}
