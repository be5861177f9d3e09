//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bakir004/expense-tracker-sub001/internal/core"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_WriteStatement(t *testing.T) {
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}
	cfg := Config{
		SpreadsheetID:   spreadsheetID,
		SheetPrefix:     "ledger-it",
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
	}
	if cfg.CredentialsFile == "" && cfg.CredentialsJSON == "" {
		t.Skip("service account credentials not configured, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	u := core.User{ID: uuid.New(), Name: "integration", InitialBalance: decimal.NewFromInt(100)}
	tx := core.NewTransaction(u.ID, core.Income, decimal.NewFromInt(5), core.DateOf(time.Now()), time.Now())
	tx.Subject = "integration test"
	tx.CumulativeDelta = decimal.NewFromInt(5)

	st := core.Statement{User: u, Transactions: []core.Transaction{tx}, ClosingBalance: decimal.NewFromInt(105)}
	if err := client.WriteStatement(ctx, st); err != nil {
		t.Fatalf("WriteStatement() error = %v", err)
	}
}
