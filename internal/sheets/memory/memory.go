// Package memory keeps mirrored statements in process, for local runs and
// tests of the mirror worker.
package memory

import (
	"context"
	"sync"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	prefix string
	tabs   map[string][][]string
	writes int
}

var _ sheets.StatementWriter = (*Store)(nil)

func New(prefix string) *Store {
	return &Store{prefix: prefix, tabs: make(map[string][][]string)}
}

// WriteStatement replaces the tab of st.User with the rendered statement.
func (s *Store) WriteStatement(ctx context.Context, st core.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := sheets.StatementRows(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[sheets.TabTitle(s.prefix, st.User)] = rows
	s.writes++
	return nil
}

// Tab returns a copy of the rows last written to title.
func (s *Store) Tab(title string) ([][]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tabs[title]
	if !ok {
		return nil, false
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out, true
}

// Writes counts every WriteStatement call so far.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
