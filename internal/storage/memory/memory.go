// Package memory is an in-process ledger store for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/ledger"
	"github.com/bakir004/expense-tracker-sub001/internal/storage"
)

type userLedger struct {
	user    core.User
	rows    []core.Transaction
	version int64
}

// Store keeps every ledger in memory. Mutate works on a private copy of the
// user's rows and commits only if nobody else committed for that user in the
// meantime; otherwise it fails with core.ErrConflict.
type Store struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]*userLedger
	owners map[uuid.UUID]uuid.UUID // transaction id -> user id
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:  make(map[uuid.UUID]*userLedger),
		owners: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("create user %s: already exists", u.ID)
	}
	u.CreatedAt = core.NormalizeTimestamp(u.CreatedAt)
	s.users[u.ID] = &userLedger{user: u}
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("get user %s: %w", id, core.ErrNotFound)
	}
	return l.user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.User, 0, len(s.users))
	for _, l := range s.users {
		out = append(out, l.user)
	}
	sortUsers(out)
	return out, nil
}

func (s *Store) SetInitialBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.users[id]
	if !ok {
		return fmt.Errorf("set initial balance for %s: %w", id, core.ErrNotFound)
	}
	l.user.InitialBalance = balance
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[id]
	if ok {
		for _, row := range s.users[owner].rows {
			if row.ID == id {
				return row, nil
			}
		}
	}
	return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, core.ErrNotFound)
}

func (s *Store) ListOrdered(_ context.Context, userID uuid.UUID) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return append([]core.Transaction(nil), l.rows...), nil
}

func (s *Store) LastTransaction(_ context.Context, userID uuid.UUID, asOf *core.Date) (core.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.users[userID]
	if !ok {
		return core.Transaction{}, false, nil
	}
	for i := len(l.rows) - 1; i >= 0; i-- {
		if asOf == nil || l.rows[i].Date.Compare(*asOf) <= 0 {
			return l.rows[i], true, nil
		}
	}
	return core.Transaction{}, false, nil
}

func (s *Store) Mutate(ctx context.Context, userID uuid.UUID, fn func(context.Context, storage.Tx) error) error {
	s.mu.RLock()
	l, ok := s.users[userID]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("lock ledger of user %s: %w", userID, core.ErrNotFound)
	}
	tx := &memTx{
		userID: userID,
		rows:   make(map[uuid.UUID]core.Transaction, len(l.rows)),
	}
	for _, row := range l.rows {
		tx.rows[row.ID] = row
	}
	version := l.version
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l.version != version {
		return fmt.Errorf("commit ledger of user %s: %w", userID, core.ErrConflict)
	}
	for id := range tx.rows {
		if owner, ok := s.owners[id]; ok && owner != userID {
			return fmt.Errorf("commit ledger of user %s: transaction %s belongs to user %s: %w", userID, id, owner, core.ErrDuplicateID)
		}
	}
	for _, id := range tx.deleted {
		delete(s.owners, id)
	}
	l.rows = tx.ordered()
	for _, row := range l.rows {
		s.owners[row.ID] = userID
	}
	l.version++
	return nil
}

type memTx struct {
	userID  uuid.UUID
	rows    map[uuid.UUID]core.Transaction
	deleted []uuid.UUID
}

func (t *memTx) LoadOrderedForUser(context.Context) ([]core.Transaction, error) {
	return t.ordered(), nil
}

func (t *memTx) SaveBatch(_ context.Context, rows []core.Transaction) error {
	for _, row := range rows {
		if row.UserID != t.userID {
			return fmt.Errorf("save transaction %s: belongs to user %s, not %s", row.ID, row.UserID, t.userID)
		}
		if old, ok := t.rows[row.ID]; ok {
			row.CreatedAt = old.CreatedAt
		} else {
			row.CreatedAt = core.NormalizeTimestamp(row.CreatedAt)
		}
		t.rows[row.ID] = row
	}
	return nil
}

func (t *memTx) DeleteRow(_ context.Context, id uuid.UUID) error {
	if _, ok := t.rows[id]; !ok {
		return fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
	}
	delete(t.rows, id)
	t.deleted = append(t.deleted, id)
	return nil
}

func (t *memTx) ordered() []core.Transaction {
	out := make([]core.Transaction, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	ledger.Sort(out)
	return out
}

func sortUsers(users []core.User) {
	slices.SortFunc(users, func(a, b core.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}
