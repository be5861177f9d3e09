// Package sheets renders user statements for spreadsheet mirrors.
package sheets

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// Ports for outbound adapters.
type (
	// StatementWriter replaces the mirrored statement of one user.
	StatementWriter interface {
		WriteStatement(ctx context.Context, st core.Statement) error
	}
)

// StatementHeader is the first row of every mirrored statement.
var StatementHeader = []string{"Date", "Subject", "Type", "Signed amount", "Cumulative delta", "Balance"}

const maxTitleLen = 100

// TabTitle names the tab holding a user's statement: prefix, user name and
// the first block of the user id, which keeps titles unique across renames.
func TabTitle(prefix string, u core.User) string {
	id := u.ID.String()[:8]
	name := strings.Join(strings.Fields(u.Name), " ")
	title := strings.TrimSpace(fmt.Sprintf("%s %s", strings.TrimSpace(prefix), name))

	room := maxTitleLen - len(id) - 3
	if utf8.RuneCountInString(title) > room {
		title = string([]rune(title)[:room])
	}
	return fmt.Sprintf("%s (%s)", title, id)
}

// StatementRows renders a statement as sheet rows: the header, an opening
// balance row and one row per transaction in ledger order.
func StatementRows(st core.Statement) [][]string {
	rows := make([][]string, 0, len(st.Transactions)+2)
	rows = append(rows, StatementHeader)
	rows = append(rows, []string{"", "Opening balance", "", "", "", core.FormatAmount(st.User.InitialBalance)})
	for i, tx := range st.Transactions {
		rows = append(rows, []string{
			tx.Date.String(),
			escapeFormula(tx.Subject),
			string(tx.Type),
			core.FormatAmount(tx.SignedAmount()),
			core.FormatAmount(tx.CumulativeDelta),
			core.FormatAmount(st.BalanceAfter(i)),
		})
	}
	return rows
}

// escapeFormula keeps user text from being evaluated as a formula.
func escapeFormula(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}
