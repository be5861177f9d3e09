// Package storetest holds the behaviour every storage.Store must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/ledger"
	"github.com/bakir004/expense-tracker-sub001/internal/storage"
)

// Run exercises a store created fresh for every subtest by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Users", testUsers},
		{"RoundTrip", testRoundTrip},
		{"LedgerOrder", testLedgerOrder},
		{"LastTransaction", testLastTransaction},
		{"RollbackOnError", testRollback},
		{"DeleteRow", testDeleteRow},
		{"UnknownUser", testUnknownUser},
		{"UsersAreIsolated", testIsolation},
		{"ForeignIDRejected", testForeignID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

// NewUser creates and stores a user with the given initial balance.
func NewUser(t *testing.T, s storage.Store, balance string) core.User {
	t.Helper()
	u := core.User{
		ID:             uuid.New(),
		Name:           "user-" + uuid.NewString()[:8],
		InitialBalance: decimal.RequireFromString(balance),
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func tx(userID uuid.UUID, typ core.TransactionType, amount string, day int, createdAt time.Time) core.Transaction {
	t := core.NewTransaction(userID, typ, decimal.RequireFromString(amount), core.NewDate(2025, 3, day), createdAt)
	t.Subject = "subject"
	t.PaymentMethod = core.PaymentCard
	return t
}

func save(t *testing.T, s storage.Store, userID uuid.UUID, rows ...core.Transaction) {
	t.Helper()
	err := s.Mutate(context.Background(), userID, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveBatch(ctx, rows)
	})
	require.NoError(t, err)
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser(t, s, "-12.50")

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Name, got.Name)
	assert.True(t, got.InitialBalance.Equal(decimal.RequireFromString("-12.5")))

	require.NoError(t, s.SetInitialBalance(ctx, u.ID, decimal.NewFromInt(300)))
	got, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.InitialBalance.Equal(decimal.NewFromInt(300)))

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.SetInitialBalance(ctx, uuid.New(), decimal.Zero), core.ErrNotFound)

	other := NewUser(t, s, "0")
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Contains(t, ids, u.ID)
	assert.Contains(t, ids, other.ID)
}

func testRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser(t, s, "0")

	in := tx(u.ID, core.Expense, "19.99", 7, time.Date(2025, 3, 7, 10, 11, 12, 123456789, time.UTC))
	in.CumulativeDelta = decimal.RequireFromString("-19.99")
	in.Notes = "weekly shop"
	in.CategoryID = uuid.NullUUID{UUID: uuid.New(), Valid: true}
	save(t, s, u.ID, in)

	got, err := s.GetTransaction(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, core.Expense, got.Type)
	assert.True(t, got.Amount.Equal(in.Amount), "amount %s", got.Amount)
	assert.True(t, got.CumulativeDelta.Equal(in.CumulativeDelta), "delta %s", got.CumulativeDelta)
	assert.Equal(t, "2025-03-07", got.Date.String())
	assert.True(t, got.CreatedAt.Equal(in.CreatedAt), "created_at %v vs %v", got.CreatedAt, in.CreatedAt)
	assert.Equal(t, "weekly shop", got.Notes)
	assert.Equal(t, core.PaymentCard, got.PaymentMethod)
	assert.Equal(t, in.CategoryID, got.CategoryID)
	assert.False(t, got.TransactionGroupID.Valid)

	// Updating through SaveBatch keeps created_at and rewrites the rest.
	in.Amount = decimal.RequireFromString("5")
	in.CumulativeDelta = decimal.RequireFromString("-5")
	in.CategoryID = uuid.NullUUID{}
	save(t, s, u.ID, in)

	got, err = s.GetTransaction(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(5)))
	assert.False(t, got.CategoryID.Valid)

	_, err = s.GetTransaction(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testLedgerOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser(t, s, "0")
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	a := tx(u.ID, core.Income, "1", 2, at)
	b := tx(u.ID, core.Income, "1", 1, at.Add(time.Hour))
	c := tx(u.ID, core.Income, "1", 1, at)
	d := tx(u.ID, core.Income, "1", 1, at)
	c.ID = uuid.MustParse("ffffffff-0000-4000-8000-000000000000")
	d.ID = uuid.MustParse("0fffffff-0000-4000-8000-000000000000")
	save(t, s, u.ID, a, b, c, d)

	rows, err := s.ListOrdered(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []uuid.UUID{d.ID, c.ID, b.ID, a.ID},
		[]uuid.UUID{rows[0].ID, rows[1].ID, rows[2].ID, rows[3].ID})
	assert.True(t, ledger.IsSorted(rows))

	err = s.Mutate(ctx, u.ID, func(ctx context.Context, tx storage.Tx) error {
		inTx, err := tx.LoadOrderedForUser(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, rows, inTx)
		return nil
	})
	require.NoError(t, err)
}

func testLastTransaction(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser(t, s, "0")

	_, ok, err := s.LastTransaction(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	first := tx(u.ID, core.Income, "1", 3, at)
	second := tx(u.ID, core.Income, "1", 3, at.Add(time.Minute))
	third := tx(u.ID, core.Income, "1", 9, at)
	save(t, s, u.ID, third, second, first)

	last, ok, err := s.LastTransaction(ctx, u.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, third.ID, last.ID)

	asOf := core.NewDate(2025, 3, 5)
	last, ok, err = s.LastTransaction(ctx, u.ID, &asOf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, last.ID)

	asOf = core.NewDate(2025, 3, 3)
	last, ok, err = s.LastTransaction(ctx, u.ID, &asOf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.ID, last.ID)

	asOf = core.NewDate(2025, 3, 2)
	_, ok, err = s.LastTransaction(ctx, u.ID, &asOf)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser(t, s, "0")
	kept := tx(u.ID, core.Income, "10", 1, time.Now())
	save(t, s, u.ID, kept)

	boom := errors.New("boom")
	err := s.Mutate(ctx, u.ID, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SaveBatch(ctx, []core.Transaction{tx2(u.ID)}); err != nil {
			return err
		}
		if err := tx.DeleteRow(ctx, kept.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := s.ListOrdered(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, kept.ID, rows[0].ID)
}

func tx2(userID uuid.UUID) core.Transaction {
	return tx(userID, core.Expense, "3", 2, time.Now())
}

func testDeleteRow(t *testing.T, s storage.Store) {
	ctx := context.Background()
	u := NewUser(t, s, "0")
	row := tx(u.ID, core.Income, "10", 1, time.Now())
	save(t, s, u.ID, row)

	err := s.Mutate(ctx, u.ID, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.DeleteRow(ctx, row.ID); err != nil {
			return err
		}
		rows, err := tx.LoadOrderedForUser(ctx)
		if err != nil {
			return err
		}
		assert.Empty(t, rows, "deletes are visible inside the unit")
		return nil
	})
	require.NoError(t, err)

	err = s.Mutate(ctx, u.ID, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteRow(ctx, row.ID)
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testUnknownUser(t *testing.T, s storage.Store) {
	err := s.Mutate(context.Background(), uuid.New(), func(context.Context, storage.Tx) error {
		t.Fatal("fn must not run for an unknown user")
		return nil
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := NewUser(t, s, "0")
	bob := NewUser(t, s, "0")
	save(t, s, alice.ID, tx(alice.ID, core.Income, "1", 1, time.Now()))

	rows, err := s.ListOrdered(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = s.Mutate(ctx, bob.ID, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveBatch(ctx, []core.Transaction{tx2(alice.ID)})
	})
	assert.Error(t, err, "a unit only writes its own user's rows")
}

func testForeignID(t *testing.T, s storage.Store) {
	ctx := context.Background()
	alice := NewUser(t, s, "0")
	bob := NewUser(t, s, "0")
	owned := tx(alice.ID, core.Income, "10", 1, time.Now())
	owned.CumulativeDelta = decimal.NewFromInt(10)
	save(t, s, alice.ID, owned)
	kept := tx(bob.ID, core.Income, "100", 5, time.Now())
	kept.CumulativeDelta = decimal.NewFromInt(100)
	save(t, s, bob.ID, kept)

	stolen := tx(bob.ID, core.Expense, "30", 1, time.Now())
	stolen.ID = owned.ID
	stolen.CumulativeDelta = decimal.NewFromInt(-30)
	shifted := kept
	shifted.CumulativeDelta = decimal.NewFromInt(70)
	err := s.Mutate(ctx, bob.ID, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveBatch(ctx, []core.Transaction{shifted, stolen})
	})
	require.ErrorIs(t, err, core.ErrDuplicateID)

	got, err := s.GetTransaction(ctx, owned.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.UserID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(10)))

	rows, err := s.ListOrdered(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].CumulativeDelta.Equal(decimal.NewFromInt(100)), "the whole unit rolls back")
}
