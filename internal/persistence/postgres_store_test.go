package persistence

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/book-translator/internal/jobs"
)

// Runs against a disposable database named by TEST_DATABASE_URL. Every
// subtest truncates the tables it uses.
func TestPostgresStore_Contract(t *testing.T) {
	_ = godotenv.Load("../../.env")
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	runStoreContract(t, func(t *testing.T) jobs.Store {
		ctx := context.Background()
		store, err := NewPostgresStore(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		_, err = store.pool.Exec(ctx, `TRUNCATE books, jobs, chunks CASCADE`)
		require.NoError(t, err)
		return store
	})
}
