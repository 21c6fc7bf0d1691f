package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/signalsfoundry/flowcanvas/model"
)

// PostgresStore is a pgx-backed RevisionStore for shared deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool from a DSN and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}

	st := &PostgresStore{pool: pool}
	if err := st.createTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

// NewPostgresStore wraps an existing pool without schema management.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (st *PostgresStore) createTables(ctx context.Context) error {
	_, err := st.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS revisions (
			digest     VARCHAR(64) PRIMARY KEY,
			document   TEXT NOT NULL,
			revision   BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			blob       BYTEA NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_revisions_document ON revisions (document, revision);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

func (st *PostgresStore) Save(ctx context.Context, document string, revision int64, snap model.Snapshot) (string, error) {
	blob, digest, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	_, err = st.pool.Exec(ctx, `
		INSERT INTO revisions (digest, document, revision, created_at, blob)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (digest) DO NOTHING
	`, digest, document, revision, time.Now(), blob)
	if err != nil {
		return "", fmt.Errorf("inserting revision: %w", err)
	}
	return digest, nil
}

func (st *PostgresStore) Load(ctx context.Context, digest string) (*Revision, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT digest, document, revision, created_at, blob FROM revisions WHERE digest = $1
	`, digest)
	return st.scan(row, digest)
}

func (st *PostgresStore) Latest(ctx context.Context, document string) (*Revision, error) {
	row := st.pool.QueryRow(ctx, `
		SELECT digest, document, revision, created_at, blob FROM revisions
		WHERE document = $1 ORDER BY revision DESC LIMIT 1
	`, document)
	return st.scan(row, document)
}

func (st *PostgresStore) List(ctx context.Context, document string, limit int) ([]*Revision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := st.pool.Query(ctx, `
		SELECT digest, document, revision, created_at, blob FROM revisions
		WHERE document = $1 ORDER BY revision DESC LIMIT $2
	`, document, limit)
	if err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	defer rows.Close()

	var revs []*Revision
	for rows.Next() {
		rev, err := st.scan(rows, document)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

func (st *PostgresStore) Close() error {
	st.pool.Close()
	return nil
}

func (st *PostgresStore) scan(row pgx.Row, key string) (*Revision, error) {
	var (
		rev  Revision
		blob []byte
	)
	err := row.Scan(&rev.Digest, &rev.Document, &rev.Revision, &rev.CreatedAt, &blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning revision: %w", err)
	}

	rev.Snapshot, err = DecodeSnapshot(blob, rev.Digest)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}
