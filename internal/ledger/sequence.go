package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// Sequence is one user's ledger loaded in ledger order. Mutations keep the
// cumulative deltas correct by shifting only the rows that follow the change,
// and remember which rows must be written back and which must be deleted.
//
// A Sequence is not safe for concurrent use; callers hold the user's lock or
// store transaction while they work on it.
type Sequence struct {
	rows    []core.Transaction
	changed map[uuid.UUID]struct{}
	removed map[uuid.UUID]struct{}
	shifted int
}

// NewSequence takes ownership of rows. Rows that are not already in ledger
// order are sorted; their stored deltas are kept as they are.
func NewSequence(rows []core.Transaction) *Sequence {
	if !IsSorted(rows) {
		Sort(rows)
	}
	return &Sequence{
		rows:    rows,
		changed: make(map[uuid.UUID]struct{}),
		removed: make(map[uuid.UUID]struct{}),
	}
}

func (s *Sequence) Len() int { return len(s.rows) }

// Rows returns a copy of the ledger in order.
func (s *Sequence) Rows() []core.Transaction {
	out := make([]core.Transaction, len(s.rows))
	copy(out, s.rows)
	return out
}

// Get returns the row with the given id.
func (s *Sequence) Get(id uuid.UUID) (core.Transaction, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return core.Transaction{}, false
	}
	return s.rows[i], true
}

// Last returns the chronologically last row.
func (s *Sequence) Last() (core.Transaction, bool) {
	if len(s.rows) == 0 {
		return core.Transaction{}, false
	}
	return s.rows[len(s.rows)-1], true
}

// LastOnOrBefore returns the last row dated on or before d.
func (s *Sequence) LastOnOrBefore(d core.Date) (core.Transaction, bool) {
	i := lastOnOrBefore(s.rows, d)
	if i < 0 {
		return core.Transaction{}, false
	}
	return s.rows[i], true
}

// Insert places tx at its ordering position, sets its cumulative delta from
// its predecessor and shifts every later row by its signed amount. The stored
// CumulativeDelta of tx is ignored.
func (s *Sequence) Insert(tx core.Transaction) (core.Transaction, error) {
	if s.indexOf(tx.ID) >= 0 {
		return core.Transaction{}, fmt.Errorf("insert transaction %s: %w", tx.ID, core.ErrDuplicateID)
	}
	return s.insert(tx), nil
}

// Update applies p to the row with the given id. A row that keeps its place
// has itself and its suffix shifted by the difference in signed amounts. A row
// whose ordering key moves it past a neighbour is removed and inserted again.
func (s *Sequence) Update(id uuid.UUID, p core.Patch) (core.Transaction, error) {
	i := s.indexOf(id)
	if i < 0 {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", id, core.ErrNotFound)
	}
	old := s.rows[i]
	upd := p.Apply(old)

	if s.staysAt(i, upd) {
		d := upd.SignedAmount().Sub(old.SignedAmount())
		s.rows[i] = upd
		s.shift(i, d)
		s.changed[id] = struct{}{}
		return s.rows[i], nil
	}

	s.remove(i)
	return s.insert(upd), nil
}

// Remove deletes the row with the given id and takes its signed amount out of
// every later row.
func (s *Sequence) Remove(id uuid.UUID) (core.Transaction, error) {
	i := s.indexOf(id)
	if i < 0 {
		return core.Transaction{}, fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
	}
	tx := s.remove(i)
	delete(s.changed, id)
	s.removed[id] = struct{}{}
	return tx, nil
}

// Changed returns the rows that must be written back, in ledger order.
func (s *Sequence) Changed() []core.Transaction {
	out := make([]core.Transaction, 0, len(s.changed))
	for _, row := range s.rows {
		if _, ok := s.changed[row.ID]; ok {
			out = append(out, row)
		}
	}
	return out
}

// Removed returns the ids of rows that must be deleted from the store.
func (s *Sequence) Removed() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.removed))
	for id := range s.removed {
		out = append(out, id)
	}
	return out
}

// Shifted counts the row adjustments made since the sequence was loaded.
func (s *Sequence) Shifted() int { return s.shifted }

func (s *Sequence) insert(tx core.Transaction) core.Transaction {
	p := searchAfter(s.rows, tx)
	prev := decimal.Zero
	if p > 0 {
		prev = s.rows[p-1].CumulativeDelta
	}
	signed := tx.SignedAmount()
	tx.CumulativeDelta = prev.Add(signed)

	s.shift(p, signed)
	s.rows = append(s.rows, core.Transaction{})
	copy(s.rows[p+1:], s.rows[p:])
	s.rows[p] = tx

	s.changed[tx.ID] = struct{}{}
	delete(s.removed, tx.ID)
	return tx
}

func (s *Sequence) remove(i int) core.Transaction {
	tx := s.rows[i]
	s.shift(i+1, tx.SignedAmount().Neg())
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	return tx
}

// shift adds d to the cumulative delta of every row from index from onward.
func (s *Sequence) shift(from int, d decimal.Decimal) {
	if d.IsZero() {
		return
	}
	for j := from; j < len(s.rows); j++ {
		s.rows[j].CumulativeDelta = s.rows[j].CumulativeDelta.Add(d)
		s.changed[s.rows[j].ID] = struct{}{}
		s.shifted++
	}
}

// staysAt reports whether upd still orders strictly between the neighbours of
// index i under the full ordering key.
func (s *Sequence) staysAt(i int, upd core.Transaction) bool {
	if i > 0 && Compare(s.rows[i-1], upd) >= 0 {
		return false
	}
	if i < len(s.rows)-1 && Compare(upd, s.rows[i+1]) >= 0 {
		return false
	}
	return true
}

func (s *Sequence) indexOf(id uuid.UUID) int {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return i
		}
	}
	return -1
}
