package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Expense TransactionType = "EXPENSE"
	Income  TransactionType = "INCOME"
)

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentOther    PaymentMethod = "OTHER"
)

const dateLayout = "2006-01-02"

type (
	TransactionType string

	PaymentMethod string

	// Date is a calendar date stored as UTC midnight.
	Date struct {
		time.Time
	}

	User struct {
		ID             uuid.UUID
		Name           string
		InitialBalance decimal.Decimal
		CreatedAt      time.Time
	}

	Transaction struct {
		ID        uuid.UUID
		UserID    uuid.UUID
		Type      TransactionType
		Amount    decimal.Decimal // magnitude, sign comes from Type
		Date      Date
		CreatedAt time.Time

		// CumulativeDelta is the running total of signed amounts up to and
		// including this row in ledger order. Maintained by the ledger engine.
		CumulativeDelta decimal.Decimal

		Subject            string
		Notes              string
		PaymentMethod      PaymentMethod
		CategoryID         uuid.NullUUID
		TransactionGroupID uuid.NullUUID
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("concurrent ledger modification")
	ErrInvariantViolation = errors.New("ledger invariant violation")
	ErrDuplicateID        = errors.New("transaction id already in use")

	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidType    = errors.New("invalid transaction type")
	ErrEmptySubject   = errors.New("empty subject")
	ErrInvalidPayment = errors.New("invalid payment method")
	ErrMissingUser    = errors.New("missing user id")
	ErrSubjectTooLong = errors.New("subject too long (max 200 characters)")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the time-of-day part of t, keeping its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	return d.Time.Compare(o.Time)
}

func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	if h, m, s := d.Clock(); h != 0 || m != 0 || s != 0 || d.Nanosecond() != 0 {
		return fmt.Errorf("%w: time of day must be empty", ErrInvalidDate)
	}
	return nil
}

func (t TransactionType) Valid() bool {
	return t == Expense || t == Income
}

// ParseTransactionType accepts the type name in any case.
func ParseTransactionType(s string) (TransactionType, error) {
	typ := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !typ.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return typ, nil
}

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentOther:
		return true
	}
	return false
}

// Sign maps an amount magnitude onto the ledger: income adds, expense subtracts.
func (t TransactionType) Sign(amount decimal.Decimal) decimal.Decimal {
	if t == Expense {
		return amount.Neg()
	}
	return amount
}

// NewTransaction builds a transaction with a fresh id. createdAt is truncated
// to microseconds so it survives a round trip through every store unchanged.
func NewTransaction(userID uuid.UUID, typ TransactionType, amount decimal.Decimal, date Date, createdAt time.Time) Transaction {
	return Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Date:      date,
		CreatedAt: NormalizeTimestamp(createdAt),
	}
}

// NormalizeTimestamp returns t in UTC at microsecond precision without a
// monotonic clock reading.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// SignedAmount is Amount for income and -Amount for expenses.
func (t Transaction) SignedAmount() decimal.Decimal {
	return t.Type.Sign(t.Amount)
}

// Validate checks the fields a caller must supply before handing a
// transaction to the ledger. The ledger engine itself does not call it.
func (t Transaction) Validate() error {
	if t.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Subject)) == 0 {
		return ErrEmptySubject
	}
	if len(t.Subject) > 200 {
		return ErrSubjectTooLong
	}
	if t.PaymentMethod != "" && !t.PaymentMethod.Valid() {
		return ErrInvalidPayment
	}
	return nil
}

func (u User) Validate() error {
	if u.ID == uuid.Nil {
		return ErrMissingUser
	}
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("empty user name")
	}
	return nil
}
