// Package services runs the ledger engine against a store: per-user
// serialization, atomic write-back of shifted rows, balance queries and
// change events.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/ledger"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	"github.com/bakir004/expense-tracker-sub001/internal/storage"
)

// Publisher announces committed ledger changes. *amqp.Client implements it.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, ev core.LedgerEvent) error
}

// UserInvalidator drops cached user rows after their initial balance changes.
type UserInvalidator interface {
	InvalidateUser(id uuid.UUID)
}

// LedgerService orchestrates ledger mutations across the store and AMQP
type LedgerService struct {
	store       storage.Store
	publisher   Publisher
	invalidator UserInvalidator
	locks       *userLocks
	verify      bool
	logger      *log.Logger
	structured  *log.StructuredLogger
	now         func() time.Time
}

type LedgerOption func(*LedgerService)

// WithPublisher sends an event after every committed change.
func WithPublisher(p Publisher) LedgerOption {
	return func(s *LedgerService) { s.publisher = p }
}

// WithVerifyWrites checks the whole ledger before each write commits.
func WithVerifyWrites(on bool) LedgerOption {
	return func(s *LedgerService) { s.verify = on }
}

func WithUserInvalidator(inv UserInvalidator) LedgerOption {
	return func(s *LedgerService) { s.invalidator = inv }
}

func WithLogger(l *log.Logger) LedgerOption {
	return func(s *LedgerService) { s.logger = l.WithComponent(log.ComponentLedger) }
}

func NewLedgerService(store storage.Store, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		store:  store,
		locks:  newUserLocks(),
		verify: true,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentLedger)
	}
	s.structured = log.NewStructuredLogger(s.logger)
	return s
}

// RegisterUser stores a new user. A missing id or creation time is filled in.
func (s *LedgerService) RegisterUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.CreatedAt = core.NormalizeTimestamp(u.CreatedAt)
	if err := u.Validate(); err != nil {
		return core.User{}, fmt.Errorf("register user: %w", err)
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return core.User{}, fmt.Errorf("register user: %w", err)
	}

	s.publish(ctx, core.EventUser, u.ID, uuid.Nil)
	return u, nil
}

// SetInitialBalance changes the balance the ledger starts from. No
// cumulative delta depends on it, so nothing is recomputed.
func (s *LedgerService) SetInitialBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	if err := s.store.SetInitialBalance(ctx, userID, balance); err != nil {
		return fmt.Errorf("set initial balance: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateUser(userID)
	}

	s.publish(ctx, core.EventUser, userID, uuid.Nil)
	return nil
}

// Create inserts tx into its user's ledger and returns it with its
// cumulative delta. A missing id or creation time is filled in.
func (s *LedgerService) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.UserID == uuid.Nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", core.ErrMissingUser)
	}
	if !tx.Type.Valid() {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", core.ErrInvalidType)
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	tx.CreatedAt = core.NormalizeTimestamp(tx.CreatedAt)
	tx.Date = core.DateOf(tx.Date.Time)

	out, err := s.mutate(ctx, log.OpCreate, tx.UserID, func(seq *ledger.Sequence) (core.Transaction, error) {
		return seq.Insert(tx)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.publish(ctx, core.EventCreated, out.UserID, out.ID)
	return out, nil
}

// Update applies p to a transaction. It fails with core.ErrNotFound if the
// id does not exist.
func (s *LedgerService) Update(ctx context.Context, id uuid.UUID, p core.Patch) (core.Transaction, error) {
	if p.Type != nil && !p.Type.Valid() {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, core.ErrInvalidType)
	}
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	out, err := s.mutate(ctx, log.OpUpdate, current.UserID, func(seq *ledger.Sequence) (core.Transaction, error) {
		return seq.Update(id, p)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	s.publish(ctx, core.EventUpdated, out.UserID, out.ID)
	return out, nil
}

// Delete removes a transaction. It fails with core.ErrNotFound if the id does
// not exist.
func (s *LedgerService) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	_, err = s.mutate(ctx, log.OpDelete, current.UserID, func(seq *ledger.Sequence) (core.Transaction, error) {
		return seq.Remove(id)
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.publish(ctx, core.EventDeleted, current.UserID, id)
	return nil
}

// GetOrderedForUser returns the user's ledger in ledger order with cumulative
// deltas as stored.
func (s *LedgerService) GetOrderedForUser(ctx context.Context, userID uuid.UUID) ([]core.Transaction, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	rows, err := s.store.ListOrdered(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return rows, nil
}

// VerifyUser checks the committed ledger of one user without writing.
func (s *LedgerService) VerifyUser(ctx context.Context, userID uuid.UUID) error {
	rows, err := s.GetOrderedForUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := ledger.Verify(rows); err != nil {
		s.logger.WarnContext(ctx, "Ledger failed verification",
			log.FieldOperation, log.OpVerify,
			log.FieldUserID, userID.String(),
			log.FieldError, err)
		return err
	}
	return nil
}

// mutate runs change against the user's ledger inside one store unit while
// holding the user's lock, then writes back exactly the rows it touched.
func (s *LedgerService) mutate(ctx context.Context, op string, userID uuid.UUID, change func(*ledger.Sequence) (core.Transaction, error)) (core.Transaction, error) {
	unlock, err := s.locks.lock(ctx, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	defer unlock()

	start := time.Now()
	var (
		result           core.Transaction
		shifted, written int
	)
	err = s.store.Mutate(ctx, userID, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.LoadOrderedForUser(ctx)
		if err != nil {
			return err
		}

		seq := ledger.NewSequence(rows)
		if result, err = change(seq); err != nil {
			return err
		}

		if s.verify {
			if err := ledger.Verify(seq.Rows()); err != nil {
				s.structured.LogError(ctx, "Ledger invariant violated, rolling back", err,
					log.ComponentLedger, op,
					log.NewFields().WithTransaction(result).WithErrorType(log.ErrorTypeInvariant))
				return err
			}
		}

		for _, id := range seq.Removed() {
			if err := tx.DeleteRow(ctx, id); err != nil {
				return err
			}
		}
		changed := seq.Changed()
		if len(changed) > 0 {
			if err := tx.SaveBatch(ctx, changed); err != nil {
				return err
			}
		}

		shifted, written = seq.Shifted(), len(changed)
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			fields := log.NewFields().
				WithOperation(op).
				WithErrorType(log.ErrorTypeConflict).
				WithError(err)
			fields[log.FieldUserID] = userID.String()
			s.logger.WarnContext(ctx, "Concurrent ledger modification", fields.ToSlice()...)
		}
		return core.Transaction{}, err
	}

	s.structured.LogMutation(ctx, op, result, shifted, written)
	fields := log.NewFields().WithOperation(op).WithDuration(time.Since(start))
	fields[log.FieldUserID] = userID.String()
	s.logger.DebugContext(ctx, "Ledger unit finished", fields.ToSlice()...)
	return result, nil
}

func (s *LedgerService) publish(ctx context.Context, kind core.EventKind, userID, txID uuid.UUID) {
	if s.publisher == nil {
		return
	}
	ev := core.LedgerEvent{
		Kind:          kind,
		UserID:        userID,
		TransactionID: txID,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.PublishLedgerEvent(ctx, ev); err != nil {
		// The change is committed; the mirror catches up on its next resync.
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldOperation, log.OpPublish,
			log.FieldEventKind, string(kind),
			log.FieldUserID, userID.String(),
			log.FieldError, err)
	}
}
