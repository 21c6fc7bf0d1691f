package store

import (
	"context"
	"os"
	"testing"
)

// Postgres tests need a live database; point FLOWCANVAS_TEST_PG_DSN at
// one to enable them.
func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("FLOWCANVAS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FLOWCANVAS_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	st, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if _, err := st.pool.Exec(ctx, `DELETE FROM revisions WHERE document IN ('triage', 'nonesuch')`); err != nil {
		t.Fatalf("cleaning revisions table: %v", err)
	}

	exerciseStore(t, st)
}
