// Package storage persists users and their ledgers.
//
// Every store keeps transactions in ledger order (date, created_at, id) and
// runs mutations through Mutate so that loading a user's ledger, shifting
// cumulative deltas and writing them back is one atomic unit per user.
package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

type (
	// Store is the read side plus the entry point for ledger mutations.
	Store interface {
		CreateUser(ctx context.Context, u core.User) error
		GetUser(ctx context.Context, id uuid.UUID) (core.User, error)
		ListUsers(ctx context.Context) ([]core.User, error)
		SetInitialBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

		GetTransaction(ctx context.Context, id uuid.UUID) (core.Transaction, error)
		// ListOrdered returns a user's committed ledger in ledger order.
		ListOrdered(ctx context.Context, userID uuid.UUID) ([]core.Transaction, error)
		// LastTransaction returns the chronologically last transaction, or the
		// last one dated on or before asOf when asOf is not nil.
		LastTransaction(ctx context.Context, userID uuid.UUID, asOf *core.Date) (core.Transaction, bool, error)

		// Mutate runs fn inside one atomic unit scoped to userID. A non-nil
		// error from fn rolls everything back. Concurrent mutation of the same
		// user that the store cannot serialize surfaces as core.ErrConflict.
		Mutate(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

		Close() error
	}

	// Tx is a user's ledger inside Mutate.
	Tx interface {
		// LoadOrderedForUser reads the user's ledger in ledger order as seen
		// by this unit, including its own uncommitted writes.
		LoadOrderedForUser(ctx context.Context) ([]core.Transaction, error)
		// SaveBatch inserts or updates rows. Only payload, type, amount, date
		// and cumulative delta change on update.
		SaveBatch(ctx context.Context, rows []core.Transaction) error
		// DeleteRow removes a row, returning core.ErrNotFound if it is absent.
		DeleteRow(ctx context.Context, id uuid.UUID) error
	}
)
