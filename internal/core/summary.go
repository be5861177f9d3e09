package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Statement is a user's ledger in chronological order with its balances.
type Statement struct {
	User           User
	Transactions   []Transaction
	ClosingBalance decimal.Decimal
}

// BalanceAfter returns the balance right after the i-th transaction.
func (s Statement) BalanceAfter(i int) decimal.Decimal {
	return s.User.InitialBalance.Add(s.Transactions[i].CumulativeDelta)
}

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventUser    EventKind = "user"
)

// LedgerEvent announces a committed change to one user's ledger.
type LedgerEvent struct {
	Kind          EventKind
	UserID        uuid.UUID
	TransactionID uuid.UUID
	OccurredAt    time.Time
}
