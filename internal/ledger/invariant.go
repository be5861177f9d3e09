package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// InvariantError describes the first row at which a ledger stops being a
// strictly ordered prefix sum. It matches core.ErrInvariantViolation.
type InvariantError struct {
	Index  int
	ID     uuid.UUID
	Want   decimal.Decimal
	Got    decimal.Decimal
	Reason string
}

func (e *InvariantError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledger invariant violated at row %d (%s): %s", e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("ledger invariant violated at row %d (%s): cumulative delta %s, want %s",
		e.Index, e.ID, e.Got.String(), e.Want.String())
}

func (e *InvariantError) Is(target error) bool {
	return target == core.ErrInvariantViolation
}

// Verify checks that rows belong to one user, are strictly increasing in
// ledger order and that every cumulative delta equals its predecessor's plus
// the row's signed amount. It never modifies rows.
func Verify(rows []core.Transaction) error {
	sum := decimal.Zero
	for i, row := range rows {
		if i > 0 {
			if row.UserID != rows[0].UserID {
				return &InvariantError{Index: i, ID: row.ID, Reason: "row belongs to another user"}
			}
			if Compare(rows[i-1], row) >= 0 {
				return &InvariantError{Index: i, ID: row.ID, Reason: "row is out of ledger order"}
			}
		}
		sum = sum.Add(row.SignedAmount())
		if !row.CumulativeDelta.Equal(sum) {
			return &InvariantError{Index: i, ID: row.ID, Want: sum, Got: row.CumulativeDelta}
		}
	}
	return nil
}
