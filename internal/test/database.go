package test

import (
	"database/sql"
	"os"
	"testing"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
	"github/chapool/gem-payout/migrations"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// DatabaseURLEnv names the Postgres database used by database tests. It must
// be a disposable database: every test truncates the payout tables.
const DatabaseURLEnv = "PAYOUT_TEST_DATABASE_URL"

// WithTestDatabase runs closure against a migrated, empty database. The test
// is skipped when DatabaseURLEnv is not set.
func WithTestDatabase(t *testing.T, closure func(db *sql.DB)) {
	t.Helper()

	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = migrate.Exec(db, "postgres", migrations.Source(), migrate.Up)
	require.NoError(t, err)

	_, err = db.ExecContext(t.Context(), "TRUNCATE payout_transactions")
	require.NoError(t, err)

	closure(db)
}
