package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/cache"
	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/storage"
)

// BalanceService answers balance questions from the materialized cumulative
// deltas. It never recomputes a ledger.
type BalanceService struct {
	store storage.Store
	users cache.Cache[uuid.UUID, core.User]
}

// NewBalanceService serves users through users when it is not nil.
func NewBalanceService(store storage.Store, users cache.Cache[uuid.UUID, core.User]) *BalanceService {
	return &BalanceService{store: store, users: users}
}

// CurrentBalance is the initial balance plus the last cumulative delta.
func (s *BalanceService) CurrentBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.balance(ctx, userID, nil)
}

// BalanceAsOf is the initial balance plus the cumulative delta of the last
// transaction dated on or before date.
func (s *BalanceService) BalanceAsOf(ctx context.Context, userID uuid.UUID, date core.Date) (decimal.Decimal, error) {
	return s.balance(ctx, userID, &date)
}

func (s *BalanceService) balance(ctx context.Context, userID uuid.UUID, asOf *core.Date) (decimal.Decimal, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	last, ok, err := s.store.LastTransaction(ctx, userID, asOf)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	if !ok {
		return u.InitialBalance, nil
	}
	return u.InitialBalance.Add(last.CumulativeDelta), nil
}

// Statement returns the ordered ledger together with the user and the
// closing balance.
func (s *BalanceService) Statement(ctx context.Context, userID uuid.UUID) (core.Statement, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return core.Statement{}, fmt.Errorf("read statement: %w", err)
	}
	rows, err := s.store.ListOrdered(ctx, userID)
	if err != nil {
		return core.Statement{}, fmt.Errorf("read statement: %w", err)
	}

	st := core.Statement{User: u, Transactions: rows, ClosingBalance: u.InitialBalance}
	if n := len(rows); n > 0 {
		st.ClosingBalance = st.BalanceAfter(n - 1)
	}
	return st, nil
}

// InvalidateUser drops the cached copy of a user.
func (s *BalanceService) InvalidateUser(id uuid.UUID) {
	if s.users != nil {
		s.users.Delete(id)
	}
}

func (s *BalanceService) user(ctx context.Context, id uuid.UUID) (core.User, error) {
	if s.users != nil {
		if u, ok := s.users.Get(id); ok {
			return u, nil
		}
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return core.User{}, err
	}
	if s.users != nil {
		s.users.Set(id, u)
	}
	return u, nil
}
