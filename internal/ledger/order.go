// Package ledger maintains a user's running balance over transactions kept in
// chronological order.
//
// Chronological order is the ordering key (date, created_at, id). Every
// component that needs "before" or "after" goes through Compare, including
// the SQL stores whose ORDER BY clauses list the same three columns.
package ledger

import (
	"bytes"
	"slices"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// Compare orders a before b by date, then creation time, then id bytes.
// It returns a negative number, zero or a positive number and is zero only
// for the same id on the same key.
func Compare(a, b core.Transaction) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// Sort sorts txs in place into ledger order.
func Sort(txs []core.Transaction) {
	slices.SortFunc(txs, Compare)
}

// IsSorted reports whether txs is strictly increasing in ledger order.
func IsSorted(txs []core.Transaction) bool {
	for i := 1; i < len(txs); i++ {
		if Compare(txs[i-1], txs[i]) >= 0 {
			return false
		}
	}
	return true
}

// searchAfter returns the first index whose row orders after tx.
func searchAfter(rows []core.Transaction, tx core.Transaction) int {
	i, _ := slices.BinarySearchFunc(rows, tx, Compare)
	for i < len(rows) && Compare(rows[i], tx) <= 0 {
		i++
	}
	return i
}

// lastOnOrBefore returns the index of the last row dated on or before d, or -1.
func lastOnOrBefore(rows []core.Transaction, d core.Date) int {
	i, _ := slices.BinarySearchFunc(rows, d, func(row core.Transaction, target core.Date) int {
		if row.Date.Compare(target) <= 0 {
			return -1
		}
		return 1
	})
	return i - 1
}
