// Package worker keeps the spreadsheet mirror of every user's statement up
// to date, from ledger events and from periodic full resyncs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	"github.com/bakir004/expense-tracker-sub001/internal/sheets"
)

type (
	// StatementSource reads a user's statement and drops what it cached
	// about a user. *services.BalanceService implements it.
	StatementSource interface {
		Statement(ctx context.Context, userID uuid.UUID) (core.Statement, error)
		InvalidateUser(userID uuid.UUID)
	}

	// UserLister lists every user. storage.Store implements it.
	UserLister interface {
		ListUsers(ctx context.Context) ([]core.User, error)
	}
)

// StatementWorker rewrites a user's mirrored statement whenever that user's
// ledger changes.
type StatementWorker struct {
	source      StatementSource
	users       UserLister
	writer      sheets.StatementWriter
	concurrency int
}

func NewStatementWorker(source StatementSource, users UserLister, writer sheets.StatementWriter, concurrency int) *StatementWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &StatementWorker{
		source:      source,
		users:       users,
		writer:      writer,
		concurrency: concurrency,
	}
}

// HandleLedgerEvent mirrors the statement of the event's user. Events for
// users that no longer exist are dropped. A user event may carry a new
// initial balance written by another process, so the cached user goes first.
func (w *StatementWorker) HandleLedgerEvent(ctx context.Context, ev core.LedgerEvent) error {
	logger := log.FromContext(ctx).With(log.FieldUserID, ev.UserID.String())
	logger.DebugContext(ctx, "Processing ledger event", log.FieldEventKind, string(ev.Kind))

	if ev.Kind == core.EventUser {
		w.source.InvalidateUser(ev.UserID)
	}

	err := w.syncUser(ctx, ev.UserID)
	if errors.Is(err, core.ErrNotFound) {
		logger.WarnContext(ctx, "Ledger event for unknown user, dropping")
		return nil
	}
	return err
}

// ResyncAll mirrors every user's statement, at most concurrency at a time,
// reading each user afresh. One failing user does not stop the others; all
// failures are returned.
func (w *StatementWorker) ResyncAll(ctx context.Context) error {
	users, err := w.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	var (
		synced atomic.Int64
		errs   = make([]error, len(users))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, u := range users {
		g.Go(func() error {
			w.source.InvalidateUser(u.ID)
			if err := w.syncUser(gctx, u.ID); err != nil {
				errs[i] = fmt.Errorf("user %s: %w", u.ID, err)
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	err = errors.Join(errs...)
	slog.InfoContext(ctx, "Statement resync completed",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpResync,
		"users", len(users),
		"synced", synced.Load(),
		"errors", len(users)-int(synced.Load()))
	return err
}

func (w *StatementWorker) syncUser(ctx context.Context, userID uuid.UUID) error {
	st, err := w.source.Statement(ctx, userID)
	if err != nil {
		return fmt.Errorf("read statement: %w", err)
	}
	if err := w.writer.WriteStatement(ctx, st); err != nil {
		return fmt.Errorf("write statement: %w", err)
	}
	return nil
}
