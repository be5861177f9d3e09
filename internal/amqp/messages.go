package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// LedgerEventMessage is the wire form of a committed ledger change.
// It carries only identifiers; consumers read the ledger itself from storage.
type LedgerEventMessage struct {
	Kind          string    `json:"kind"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEventMessage converts a domain event into its wire form.
func NewLedgerEventMessage(ev core.LedgerEvent) *LedgerEventMessage {
	msg := &LedgerEventMessage{
		Kind:      string(ev.Kind),
		UserID:    ev.UserID.String(),
		Timestamp: ev.OccurredAt,
	}
	if ev.TransactionID != uuid.Nil {
		msg.TransactionID = ev.TransactionID.String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Event converts the message back into a domain event.
func (m *LedgerEventMessage) Event() (core.LedgerEvent, error) {
	kind := core.EventKind(m.Kind)
	switch kind {
	case core.EventCreated, core.EventUpdated, core.EventDeleted, core.EventUser:
	default:
		return core.LedgerEvent{}, fmt.Errorf("unknown event kind %q", m.Kind)
	}

	userID, err := uuid.Parse(m.UserID)
	if err != nil {
		return core.LedgerEvent{}, fmt.Errorf("parse user id: %w", err)
	}

	var txID uuid.UUID
	if m.TransactionID != "" {
		if txID, err = uuid.Parse(m.TransactionID); err != nil {
			return core.LedgerEvent{}, fmt.Errorf("parse transaction id: %w", err)
		}
	}

	return core.LedgerEvent{
		Kind:          kind,
		UserID:        userID,
		TransactionID: txID,
		OccurredAt:    m.Timestamp,
	}, nil
}

// LedgerEventFromJSON decodes a message body into the event it carries.
func LedgerEventFromJSON(data []byte) (core.LedgerEvent, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return core.LedgerEvent{}, err
	}
	return msg.Event()
}
