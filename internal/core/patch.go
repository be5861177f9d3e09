package core

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Patch lists the fields an update changes. Nil fields are left alone.
type Patch struct {
	Type   *TransactionType
	Amount *decimal.Decimal
	Date   *Date

	Subject            *string
	Notes              *string
	PaymentMethod      *PaymentMethod
	CategoryID         *uuid.NullUUID
	TransactionGroupID *uuid.NullUUID
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Type == nil && p.Amount == nil && p.Date == nil &&
		p.Subject == nil && p.Notes == nil && p.PaymentMethod == nil &&
		p.CategoryID == nil && p.TransactionGroupID == nil
}

// Apply returns a copy of t with the patch applied. ID, UserID, CreatedAt and
// CumulativeDelta are never touched. A new date loses its time of day.
func (p Patch) Apply(t Transaction) Transaction {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = DateOf(p.Date.Time)
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.PaymentMethod != nil {
		t.PaymentMethod = *p.PaymentMethod
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.TransactionGroupID != nil {
		t.TransactionGroupID = *p.TransactionGroupID
	}
	return t
}

// Validate rejects values the validation layer would refuse. Zero amounts
// are rejected here even though the ledger engine tolerates them.
func (p Patch) Validate() error {
	if p.Type != nil && !p.Type.Valid() {
		return ErrInvalidType
	}
	if p.Amount != nil && !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if p.Date != nil {
		if err := p.Date.Validate(); err != nil {
			return err
		}
	}
	if p.Subject != nil {
		if len(*p.Subject) == 0 {
			return ErrEmptySubject
		}
		if len(*p.Subject) > 200 {
			return ErrSubjectTooLong
		}
	}
	if p.PaymentMethod != nil && *p.PaymentMethod != "" && !p.PaymentMethod.Valid() {
		return ErrInvalidPayment
	}
	return nil
}
