package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

const txColumns = `id, user_id, type, amount, date, created_at, cumulative_delta,
	subject, notes, payment_method, category_id, transaction_group_id`

// SQLiteRepository stores ledgers in a single SQLite file. Mutations open an
// IMMEDIATE transaction so writers are serialized by the database itself.
type SQLiteRepository struct {
	db *sql.DB
}

// SQLiteDSN builds the connection string used for both the repository and
// its migrations.
func SQLiteDSN(dbPath string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + dbPath + "?" + q.Encode()
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := SQLiteDSN(dbPath, 5*time.Second)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, initial_balance, created_at) VALUES (?, ?, ?, ?)`,
		u.ID.String(), u.Name, u.InitialBalance.String(), core.NormalizeTimestamp(u.CreatedAt).UnixMicro())
	if err != nil {
		return fmt.Errorf("create user: %w", mapSQLiteErr(err))
	}
	slog.InfoContext(ctx, "User saved to SQLite", "user_id", u.ID, "initial_balance", u.InitialBalance.String())
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id uuid.UUID) (core.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, initial_balance, created_at FROM users WHERE id = ?`, id.String())
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("get user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, initial_balance, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) SetInitialBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET initial_balance = ? WHERE id = ?`, balance.String(), id.String())
	if err != nil {
		return fmt.Errorf("set initial balance: %w", mapSQLiteErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set initial balance for %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id.String())
	tx, err := scanSQLiteTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListOrdered(ctx context.Context, userID uuid.UUID) ([]core.Transaction, error) {
	return listSQLiteOrdered(ctx, r.db, userID)
}

func (r *SQLiteRepository) LastTransaction(ctx context.Context, userID uuid.UUID, asOf *core.Date) (core.Transaction, bool, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{userID.String()}
	if asOf != nil {
		query += ` AND date <= ?`
		args = append(args, asOf.String())
	}
	query += ` ORDER BY date DESC, created_at DESC, id DESC LIMIT 1`

	tx, err := scanSQLiteTransaction(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("last transaction for %s: %w", userID, err)
	}
	return tx, true, nil
}

// Mutate runs fn in an IMMEDIATE transaction and bumps the user's ledger
// version on success. SQLITE_BUSY after the busy timeout is reported as
// core.ErrConflict.
func (r *SQLiteRepository) Mutate(ctx context.Context, userID uuid.UUID, fn func(context.Context, Tx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", mapSQLiteErr(err))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	var version int64
	err = sqlTx.QueryRowContext(ctx,
		`SELECT ledger_version FROM users WHERE id = ?`, userID.String()).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock ledger of user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock ledger of user %s: %w", userID, mapSQLiteErr(err))
	}

	if err = fn(ctx, &sqliteTx{tx: sqlTx, userID: userID}); err != nil {
		return err
	}

	res, err := sqlTx.ExecContext(ctx,
		`UPDATE users SET ledger_version = ledger_version + 1 WHERE id = ? AND ledger_version = ?`,
		userID.String(), version)
	if err != nil {
		return fmt.Errorf("bump ledger version: %w", mapSQLiteErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("bump ledger version of user %s: %w", userID, core.ErrConflict)
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", mapSQLiteErr(err))
	}
	return nil
}

type sqliteTx struct {
	tx     *sql.Tx
	userID uuid.UUID
}

func (t *sqliteTx) LoadOrderedForUser(ctx context.Context) ([]core.Transaction, error) {
	return listSQLiteOrdered(ctx, t.tx, t.userID)
}

func (t *sqliteTx) SaveBatch(ctx context.Context, rows []core.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		WHERE transactions.user_id = excluded.user_id`)
	if err != nil {
		return fmt.Errorf("prepare save batch: %w", mapSQLiteErr(err))
	}
	defer stmt.Close()

	for _, row := range rows {
		if row.UserID != t.userID {
			return fmt.Errorf("save transaction %s: belongs to user %s, not %s", row.ID, row.UserID, t.userID)
		}
		res, err := stmt.ExecContext(ctx,
			row.ID.String(),
			row.UserID.String(),
			string(row.Type),
			row.Amount.String(),
			row.Date.String(),
			core.NormalizeTimestamp(row.CreatedAt).UnixMicro(),
			row.CumulativeDelta.String(),
			row.Subject,
			row.Notes,
			string(row.PaymentMethod),
			nullUUIDString(row.CategoryID),
			nullUUIDString(row.TransactionGroupID),
		)
		if err != nil {
			return fmt.Errorf("save transaction %s: %w", row.ID, mapSQLiteErr(err))
		}
		// The upsert skips ids owned by another user.
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("save transaction %s: %w", row.ID, mapSQLiteErr(err))
		} else if n == 0 {
			return fmt.Errorf("save transaction %s: %w", row.ID, core.ErrDuplicateID)
		}
	}
	return nil
}

func (t *sqliteTx) DeleteRow(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id.String(), t.userID.String())
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, mapSQLiteErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func listSQLiteOrdered(ctx context.Context, q queryer, userID uuid.UUID) ([]core.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id = ? ORDER BY date, created_at, id`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("list ledger of user %s: %w", userID, mapSQLiteErr(err))
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanSQLiteUser(s scanner) (core.User, error) {
	var (
		id, name, balance string
		createdAt         int64
	)
	if err := s.Scan(&id, &name, &balance, &createdAt); err != nil {
		return core.User{}, err
	}
	u := core.User{Name: name, CreatedAt: time.UnixMicro(createdAt).UTC()}
	var err error
	if u.ID, err = uuid.Parse(id); err != nil {
		return core.User{}, fmt.Errorf("parse user id: %w", err)
	}
	if u.InitialBalance, err = decimal.NewFromString(balance); err != nil {
		return core.User{}, fmt.Errorf("parse initial balance: %w", err)
	}
	return u, nil
}

func scanSQLiteTransaction(s scanner) (core.Transaction, error) {
	var (
		id, userID, typ, amount, date, delta string
		subject, notes, payment              string
		createdAt                            int64
		category, group                      sql.NullString
	)
	err := s.Scan(&id, &userID, &typ, &amount, &date, &createdAt, &delta,
		&subject, &notes, &payment, &category, &group)
	if err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		Type:          core.TransactionType(typ),
		CreatedAt:     time.UnixMicro(createdAt).UTC(),
		Subject:       subject,
		Notes:         notes,
		PaymentMethod: core.PaymentMethod(payment),
	}
	if tx.ID, err = uuid.Parse(id); err != nil {
		return core.Transaction{}, fmt.Errorf("parse id: %w", err)
	}
	if tx.UserID, err = uuid.Parse(userID); err != nil {
		return core.Transaction{}, fmt.Errorf("parse user id: %w", err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if tx.CumulativeDelta, err = decimal.NewFromString(delta); err != nil {
		return core.Transaction{}, fmt.Errorf("parse cumulative delta: %w", err)
	}
	if tx.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, err
	}
	if tx.CategoryID, err = parseNullUUID(category); err != nil {
		return core.Transaction{}, fmt.Errorf("parse category id: %w", err)
	}
	if tx.TransactionGroupID, err = parseNullUUID(group); err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction group id: %w", err)
	}
	return tx, nil
}

func nullUUIDString(u uuid.NullUUID) sql.NullString {
	if !u.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: u.UUID.String(), Valid: true}
}

func parseNullUUID(s sql.NullString) (uuid.NullUUID, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return uuid.NullUUID{}, nil
	}
	u, err := uuid.Parse(s.String)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: u, Valid: true}, nil
}

// mapSQLiteErr turns lock contention into core.ErrConflict.
func mapSQLiteErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", core.ErrConflict, err)
		}
	}
	return err
}
