package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakir004/expense-tracker-sub001/internal/cli"
	"github.com/bakir004/expense-tracker-sub001/internal/config"
	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	"github.com/bakir004/expense-tracker-sub001/internal/storage"
)

func newApp(t *testing.T) *cli.App {
	t.Helper()
	cfg := &config.Config{
		Backend:           "memory",
		VerifyWrites:      true,
		ConflictRetries:   3,
		UserCacheSize:     16,
		UserCacheTTL:      time.Minute,
		ResyncInterval:    time.Minute,
		ResyncConcurrency: 2,
	}
	logger := log.New(log.Config{Output: io.Discard})
	app, err := cli.NewApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func exec(t *testing.T, app *cli.App, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), app, args, &out)
	return strings.TrimSpace(out.String()), err
}

func mustExec(t *testing.T, app *cli.App, args ...string) string {
	t.Helper()
	out, err := exec(t, app, args...)
	require.NoError(t, err, "ledgerctl %v", args)
	return out
}

func TestLedgerctlWorkflow(t *testing.T) {
	app := newApp(t)

	userID := mustExec(t, app, "user-add", "-name", "Ada", "-balance", "100")
	_, err := uuid.Parse(userID)
	require.NoError(t, err)

	line := mustExec(t, app, "tx-add", "-user", userID, "-type", "income", "-amount", "50", "-date", "2025-04-02", "-subject", "salary")
	txID, delta, ok := strings.Cut(line, "\t")
	require.True(t, ok)
	assert.Equal(t, "50.00", delta)

	line = mustExec(t, app, "tx-add", "-user", userID, "-amount", "20", "-date", "2025-04-01", "-subject", "lunch", "-payment", "card")
	_, delta, _ = strings.Cut(line, "\t")
	assert.Equal(t, "-20.00", delta, "earlier date goes first")

	assert.Equal(t, "130.00", mustExec(t, app, "balance", "-user", userID))
	assert.Equal(t, "80.00", mustExec(t, app, "balance", "-user", userID, "-as-of", "2025-04-01"))
	assert.Equal(t, "100.00", mustExec(t, app, "balance", "-user", userID, "-as-of", "2025-03-31"))

	line = mustExec(t, app, "tx-update", "-id", txID, "-amount", "70")
	assert.True(t, strings.HasSuffix(line, "50.00"), line)
	assert.Equal(t, "150.00", mustExec(t, app, "balance", "-user", userID))

	listing := mustExec(t, app, "list", "-user", userID)
	assert.Contains(t, listing, "lunch")
	assert.Contains(t, listing, "salary")
	assert.Contains(t, listing, "150.00")
	assert.Less(t, strings.Index(listing, "lunch"), strings.Index(listing, "salary"))

	mustExec(t, app, "tx-rm", "-id", txID)
	assert.Equal(t, "80.00", mustExec(t, app, "balance", "-user", userID))

	mustExec(t, app, "user-balance-set", "-user", userID, "-balance", "-5")
	assert.Equal(t, "-25.00", mustExec(t, app, "balance", "-user", userID))

	assert.Contains(t, mustExec(t, app, "user-list"), "Ada")
	assert.Equal(t, "ok: 1 ledger(s) verified", mustExec(t, app, "verify"))
}

func TestLedgerctlRejectsBadInput(t *testing.T) {
	app := newApp(t)
	userID := mustExec(t, app, "user-add", "-name", "Bo")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown command", []string{"frobnicate"}, errUsage},
		{"missing user", []string{"tx-add", "-amount", "1", "-date", "2025-01-01", "-subject", "x"}, errUsage},
		{"bad user id", []string{"balance", "-user", "nope"}, errUsage},
		{"unknown flag", []string{"list", "-user", userID, "-color"}, errUsage},
		{"zero amount", []string{"tx-add", "-user", userID, "-amount", "0", "-date", "2025-01-01", "-subject", "x"}, core.ErrInvalidAmount},
		{"signed amount", []string{"tx-add", "-user", userID, "-amount", "-3", "-date", "2025-01-01", "-subject", "x"}, core.ErrInvalidAmount},
		{"bad type", []string{"tx-add", "-user", userID, "-type", "gift", "-amount", "1", "-date", "2025-01-01", "-subject", "x"}, core.ErrInvalidType},
		{"empty subject", []string{"tx-add", "-user", userID, "-amount", "1", "-date", "2025-01-01"}, core.ErrEmptySubject},
		{"bad payment", []string{"tx-add", "-user", userID, "-amount", "1", "-date", "2025-01-01", "-subject", "x", "-payment", "iou"}, core.ErrInvalidPayment},
		{"empty patch", []string{"tx-update", "-id", uuid.NewString()}, errUsage},
		{"unknown transaction", []string{"tx-rm", "-id", uuid.NewString()}, core.ErrNotFound},
		{"unknown user", []string{"list", "-user", uuid.NewString()}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec(t, app, tt.args...)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, "0.00", mustExec(t, app, "balance", "-user", userID), "rejected input writes nothing")
}

func TestLedgerctlVerifyReportsCorruption(t *testing.T) {
	app := newApp(t)
	good := mustExec(t, app, "user-add", "-name", "good")
	bad := mustExec(t, app, "user-add", "-name", "bad")
	mustExec(t, app, "tx-add", "-user", good, "-amount", "5", "-date", "2025-02-01", "-subject", "ok")
	mustExec(t, app, "tx-add", "-user", bad, "-amount", "5", "-date", "2025-02-01", "-subject", "drifted")

	badID := uuid.MustParse(bad)
	rows, err := app.Backend.Store.ListOrdered(context.Background(), badID)
	require.NoError(t, err)
	rows[0].CumulativeDelta = decimal.NewFromInt(42)
	err = app.Backend.Store.Mutate(context.Background(), badID, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveBatch(ctx, rows)
	})
	require.NoError(t, err)

	out, err := exec(t, app, "verify")
	require.ErrorIs(t, err, core.ErrInvariantViolation)
	assert.Contains(t, out, "FAIL user "+bad)
	assert.NotContains(t, out, good)

	_, err = exec(t, app, "verify", "-user", good)
	assert.NoError(t, err)
}

func TestUsageListsEveryCommand(t *testing.T) {
	var out bytes.Buffer
	usage(&out)
	for _, c := range commands {
		assert.Contains(t, out.String(), c.name)
	}
}
