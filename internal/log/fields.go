package log

import (
	"time"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent       = "component"
	FieldOperation       = "operation"
	FieldError           = "error"
	FieldErrorType       = "error_type"
	FieldDuration        = "duration_ms"
	FieldUserID          = "user_id"
	FieldTransactionID   = "transaction_id"
	FieldTransactionType = "transaction_type"
	FieldDate            = "date"
	FieldSignedAmount    = "signed_amount"
	FieldCumulativeDelta = "cumulative_delta"
	FieldShiftedRows     = "shifted_rows"
	FieldWrittenRows     = "written_rows"
	FieldBackend         = "backend"
	FieldEventKind       = "event_kind"
	FieldSheet           = "sheet"
	FieldAttempt         = "attempt"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentCache   = "cache"
	ComponentBackend = "backend"
	ComponentCLI     = "cli"
)

// Operations defines standard operation names
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpVerify  = "verify"
	OpPublish = "publish"
	OpResync  = "resync"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeConflict  = "conflict_error"
	ErrorTypeInvariant = "invariant_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType adds the error category
func (f LogFields) WithErrorType(errorType string) LogFields {
	f[FieldErrorType] = errorType
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

// WithTransaction adds the ledger position of a transaction
func (f LogFields) WithTransaction(tx core.Transaction) LogFields {
	f[FieldUserID] = tx.UserID.String()
	f[FieldTransactionID] = tx.ID.String()
	f[FieldTransactionType] = string(tx.Type)
	f[FieldDate] = tx.Date.String()
	f[FieldSignedAmount] = tx.SignedAmount().String()
	f[FieldCumulativeDelta] = tx.CumulativeDelta.String()
	return f
}

// WithRows adds how much of the ledger a mutation touched
func (f LogFields) WithRows(shifted, written int) LogFields {
	f[FieldShiftedRows] = shifted
	f[FieldWrittenRows] = written
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
