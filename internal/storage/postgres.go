package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// lockTimeout bounds how long Mutate waits for another writer of the same user.
const lockTimeout = 5 * time.Second

// PostgresRepository stores ledgers in Postgres. Mutations lock the owning
// user row with SELECT ... FOR UPDATE, so writers of different users never
// block each other.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	if err := RunPostgresMigrations(dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, initial_balance, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Name, toNumeric(u.InitialBalance), core.NormalizeTimestamp(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("create user: %w", mapPgErr(err))
	}
	slog.InfoContext(ctx, "User saved to Postgres", "user_id", u.ID, "initial_balance", u.InitialBalance.String())
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id uuid.UUID) (core.User, error) {
	u, err := scanPgUser(r.pool.QueryRow(ctx,
		`SELECT id, name, initial_balance, created_at FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, fmt.Errorf("get user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, initial_balance, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) SetInitialBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET initial_balance = $1 WHERE id = $2`, toNumeric(balance), id)
	if err != nil {
		return fmt.Errorf("set initial balance: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set initial balance for %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	tx, err := scanPgTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (r *PostgresRepository) ListOrdered(ctx context.Context, userID uuid.UUID) ([]core.Transaction, error) {
	return listPgOrdered(ctx, r.pool, userID)
}

func (r *PostgresRepository) LastTransaction(ctx context.Context, userID uuid.UUID, asOf *core.Date) (core.Transaction, bool, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if asOf != nil {
		query += ` AND date <= $2`
		args = append(args, asOf.Time)
	}
	query += ` ORDER BY date DESC, created_at DESC, id DESC LIMIT 1`

	tx, err := scanPgTransaction(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("last transaction for %s: %w", userID, err)
	}
	return tx, true, nil
}

// Mutate locks the user row for the lifetime of fn. Serialization failures,
// deadlocks and lock timeouts are reported as core.ErrConflict.
func (r *PostgresRepository) Mutate(ctx context.Context, userID uuid.UUID, fn func(context.Context, Tx) error) (err error) {
	pgTx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", mapPgErr(err))
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", mapPgErr(err))
	}

	var version int64
	err = pgTx.QueryRow(ctx,
		`SELECT ledger_version FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock ledger of user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock ledger of user %s: %w", userID, mapPgErr(err))
	}

	if err = fn(ctx, &pgLedgerTx{tx: pgTx, userID: userID}); err != nil {
		return err
	}

	tag, err := pgTx.Exec(ctx,
		`UPDATE users SET ledger_version = ledger_version + 1 WHERE id = $1 AND ledger_version = $2`,
		userID, version)
	if err != nil {
		return fmt.Errorf("bump ledger version: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("bump ledger version of user %s: %w", userID, core.ErrConflict)
		return err
	}

	if err = pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", mapPgErr(err))
	}
	return nil
}

type pgLedgerTx struct {
	tx     pgx.Tx
	userID uuid.UUID
}

func (t *pgLedgerTx) LoadOrderedForUser(ctx context.Context) ([]core.Transaction, error) {
	return listPgOrdered(ctx, t.tx, t.userID)
}

func (t *pgLedgerTx) SaveBatch(ctx context.Context, rows []core.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		if row.UserID != t.userID {
			return fmt.Errorf("save transaction %s: belongs to user %s, not %s", row.ID, row.UserID, t.userID)
		}
		batch.Queue(`INSERT INTO transactions (`+txColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				type = excluded.type,
				amount = excluded.amount,
				date = excluded.date,
				cumulative_delta = excluded.cumulative_delta,
				subject = excluded.subject,
				notes = excluded.notes,
				payment_method = excluded.payment_method,
				category_id = excluded.category_id,
				transaction_group_id = excluded.transaction_group_id
			WHERE transactions.user_id = excluded.user_id`,
			row.ID,
			row.UserID,
			string(row.Type),
			toNumeric(row.Amount),
			row.Date.Time,
			core.NormalizeTimestamp(row.CreatedAt),
			toNumeric(row.CumulativeDelta),
			row.Subject,
			row.Notes,
			string(row.PaymentMethod),
			toPgUUID(row.CategoryID),
			toPgUUID(row.TransactionGroupID),
		)
	}
	br := t.tx.SendBatch(ctx, batch)
	for _, row := range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("save transaction %s: %w", row.ID, mapPgErr(err))
		}
		// The upsert skips ids owned by another user.
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return fmt.Errorf("save transaction %s: %w", row.ID, core.ErrDuplicateID)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("save batch of %d transactions: %w", len(rows), mapPgErr(err))
	}
	return nil
}

func (t *pgLedgerTx) DeleteRow(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, t.userID)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listPgOrdered(ctx context.Context, q pgQueryer, userID uuid.UUID) ([]core.Transaction, error) {
	rows, err := q.Query(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = $1 ORDER BY date, created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger of user %s: %w", userID, mapPgErr(err))
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanPgTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanPgUser(row pgx.Row) (core.User, error) {
	var (
		u       core.User
		balance pgtype.Numeric
	)
	if err := row.Scan(&u.ID, &u.Name, &balance, &u.CreatedAt); err != nil {
		return core.User{}, err
	}
	u.InitialBalance = fromNumeric(balance)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func scanPgTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx              core.Transaction
		typ, payment    string
		amount, delta   pgtype.Numeric
		date            time.Time
		category, group pgtype.UUID
	)
	err := row.Scan(&tx.ID, &tx.UserID, &typ, &amount, &date, &tx.CreatedAt, &delta,
		&tx.Subject, &tx.Notes, &payment, &category, &group)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.PaymentMethod = core.PaymentMethod(payment)
	tx.Amount = fromNumeric(amount)
	tx.CumulativeDelta = fromNumeric(delta)
	tx.Date = core.DateOf(date)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.CategoryID = fromPgUUID(category)
	tx.TransactionGroupID = fromPgUUID(group)
	return tx, nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func toPgUUID(u uuid.NullUUID) pgtype.UUID {
	return pgtype.UUID{Bytes: u.UUID, Valid: u.Valid}
}

func fromPgUUID(u pgtype.UUID) uuid.NullUUID {
	if !u.Valid {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: u.Bytes, Valid: true}
}

// mapPgErr turns serialization failures, deadlocks and lock timeouts into
// core.ErrConflict.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", core.ErrConflict, err)
		}
	}
	return err
}
