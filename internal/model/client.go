package model

import (
	"time"

	"github.com/sells-group/prospect-engine/internal/money"
)

// Client is a tenant with a prepaid credit balance. Only the ledger writes
// CreditBalance.
type Client struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Industry      string        `json:"industry,omitempty"`
	CreditBalance money.Decimal `json:"credit_balance"`
	MarginPercent money.Decimal `json:"margin_percent"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TxUsage      TransactionType = "usage"
	TxPurchase   TransactionType = "purchase"
	TxAdjustment TransactionType = "adjustment"
	TxRefund     TransactionType = "refund"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxUsage, TxPurchase, TxAdjustment, TxRefund:
		return true
	}
	return false
}

// CreditTransaction is an append-only ledger row. Usage rows carry a negative
// Amount; BalanceAfter is the client balance once the row is applied.
type CreditTransaction struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id"`
	Type         TransactionType `json:"type"`
	Amount       money.Decimal   `json:"amount"`
	BaseCost     *money.Decimal  `json:"base_cost,omitempty"`
	MarginAmount *money.Decimal  `json:"margin_amount,omitempty"`
	BalanceAfter money.Decimal   `json:"balance_after"`
	Source       string          `json:"source,omitempty"`
	Operation    string          `json:"operation,omitempty"`
	JobID        string          `json:"job_id,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
