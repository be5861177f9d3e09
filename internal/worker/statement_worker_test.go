package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakir004/expense-tracker-sub001/internal/cache"
	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	"github.com/bakir004/expense-tracker-sub001/internal/services"
	"github.com/bakir004/expense-tracker-sub001/internal/sheets"
	sheetsmem "github.com/bakir004/expense-tracker-sub001/internal/sheets/memory"
	"github.com/bakir004/expense-tracker-sub001/internal/storage/memory"
)

type env struct {
	store    *memory.Store
	ledger   *services.LedgerService
	balances *services.BalanceService
	mirror   *sheetsmem.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	return &env{
		store:    store,
		ledger:   services.NewLedgerService(store, services.WithLogger(log.New(log.Config{Output: io.Discard}))),
		balances: services.NewBalanceService(store, nil),
		mirror:   sheetsmem.New("ledger"),
	}
}

func (e *env) user(t *testing.T, name string, txs ...string) core.User {
	t.Helper()
	ctx := context.Background()
	u, err := e.ledger.RegisterUser(ctx, core.User{Name: name, InitialBalance: decimal.NewFromInt(100)})
	require.NoError(t, err)
	for i, v := range txs {
		tx := core.NewTransaction(u.ID, core.Expense, decimal.RequireFromString(v), core.NewDate(2025, 4, 1+i), time.Now())
		tx.Subject = "item"
		_, err := e.ledger.Create(ctx, tx)
		require.NoError(t, err)
	}
	return u
}

// failingWriter fails for one user and records the rest.
type failingWriter struct {
	mu     sync.Mutex
	failID uuid.UUID
	wrote  []uuid.UUID
}

func (w *failingWriter) WriteStatement(_ context.Context, st core.Statement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st.User.ID == w.failID {
		return errors.New("quota exceeded")
	}
	w.wrote = append(w.wrote, st.User.ID)
	return nil
}

func TestHandleLedgerEventMirrorsStatement(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "ada", "10", "2.5")
	w := NewStatementWorker(e.balances, e.store, e.mirror, 2)

	err := w.HandleLedgerEvent(context.Background(), core.LedgerEvent{Kind: core.EventCreated, UserID: u.ID})
	require.NoError(t, err)

	rows, ok := e.mirror.Tab(sheets.TabTitle("ledger", u))
	require.True(t, ok)
	require.Len(t, rows, 4)
	assert.Equal(t, "100.00", rows[1][5])
	assert.Equal(t, "-12.50", rows[3][4])
	assert.Equal(t, "87.50", rows[3][5])
}

func TestUserEventRefreshesCachedInitialBalance(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "ada", "10")
	users := cache.NewLRUCache[uuid.UUID, core.User](16, time.Hour)
	w := NewStatementWorker(services.NewBalanceService(e.store, users), e.store, e.mirror, 1)
	ctx := context.Background()

	require.NoError(t, w.HandleLedgerEvent(ctx, core.LedgerEvent{Kind: core.EventCreated, UserID: u.ID}))
	require.Equal(t, 1, users.Size(), "the worker's cache is warm")

	// Another process changes the initial balance; only the event reaches us.
	require.NoError(t, e.ledger.SetInitialBalance(ctx, u.ID, decimal.NewFromInt(250)))
	require.NoError(t, w.HandleLedgerEvent(ctx, core.LedgerEvent{Kind: core.EventUser, UserID: u.ID}))

	rows, ok := e.mirror.Tab(sheets.TabTitle("ledger", u))
	require.True(t, ok)
	assert.Equal(t, "250.00", rows[1][5])
	assert.Equal(t, "240.00", rows[2][5])
}

func TestResyncAllReadsFreshUsers(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "ada")
	users := cache.NewLRUCache[uuid.UUID, core.User](16, time.Hour)
	w := NewStatementWorker(services.NewBalanceService(e.store, users), e.store, e.mirror, 1)
	ctx := context.Background()

	require.NoError(t, w.ResyncAll(ctx))
	require.NoError(t, e.ledger.SetInitialBalance(ctx, u.ID, decimal.NewFromInt(-5)))
	require.NoError(t, w.ResyncAll(ctx))

	rows, ok := e.mirror.Tab(sheets.TabTitle("ledger", u))
	require.True(t, ok)
	assert.Equal(t, "-5.00", rows[1][5])
}

func TestHandleLedgerEventForUnknownUser(t *testing.T) {
	e := newEnv(t)
	w := NewStatementWorker(e.balances, e.store, e.mirror, 1)

	err := w.HandleLedgerEvent(context.Background(), core.LedgerEvent{Kind: core.EventDeleted, UserID: uuid.New()})
	require.NoError(t, err, "unknown users are acknowledged, not retried")
	assert.Zero(t, e.mirror.Writes())
}

func TestHandleLedgerEventPropagatesWriteErrors(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "ada", "1")
	w := NewStatementWorker(e.balances, e.store, &failingWriter{failID: u.ID}, 1)

	err := w.HandleLedgerEvent(context.Background(), core.LedgerEvent{Kind: core.EventCreated, UserID: u.ID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestResyncAll(t *testing.T) {
	e := newEnv(t)
	var users []core.User
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		users = append(users, e.user(t, name, "1"))
	}

	w := NewStatementWorker(e.balances, e.store, e.mirror, 3)
	require.NoError(t, w.ResyncAll(context.Background()))
	assert.Equal(t, len(users), e.mirror.Writes())
	for _, u := range users {
		_, ok := e.mirror.Tab(sheets.TabTitle("ledger", u))
		assert.True(t, ok, "tab for %s", u.Name)
	}
}

func TestResyncAllContinuesPastFailures(t *testing.T) {
	e := newEnv(t)
	bad := e.user(t, "bad")
	e.user(t, "good1")
	e.user(t, "good2")

	writer := &failingWriter{failID: bad.ID}
	w := NewStatementWorker(e.balances, e.store, writer, 1)

	err := w.ResyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad.ID.String())
	assert.Len(t, writer.wrote, 2)
}

func TestResyncerLifecycle(t *testing.T) {
	e := newEnv(t)
	e.user(t, "ada", "1")
	w := NewStatementWorker(e.balances, e.store, e.mirror, 1)
	r := NewResyncer(w, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start(ctx), "second start is rejected")

	require.Eventually(t, func() bool { return e.mirror.Writes() >= 3 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))
	assert.False(t, r.IsRunning())
	require.NoError(t, r.Stop(stopCtx), "stopping twice is harmless")

	// A stopped resyncer can be started again.
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Stop(stopCtx))
}
