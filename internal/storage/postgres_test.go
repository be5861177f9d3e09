//go:build integration

package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bakir004/expense-tracker-sub001/internal/storage"
	"github.com/bakir004/expense-tracker-sub001/internal/storage/storetest"
)

// Run with: POSTGRES_TEST_DSN=postgres://... go test -tags integration ./internal/storage/...
func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) storage.Store {
		repo, err := storage.NewPostgresRepository(context.Background(), dsn)
		require.NoError(t, err)
		return repo
	})
}
