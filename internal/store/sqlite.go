package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalsfoundry/flowcanvas/model"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// SQLiteStore is a file-backed RevisionStore.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens or creates a revision database at the given path,
// applying pragmas and schema.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{conn: conn, path: dbPath}, nil
}

func (st *SQLiteStore) Save(ctx context.Context, document string, revision int64, snap model.Snapshot) (string, error) {
	blob, digest, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	_, err = st.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO revisions (digest, document, revision, created_at, blob)
		 VALUES (?, ?, ?, ?, ?)`,
		digest, document, revision, time.Now().UnixMilli(), blob,
	)
	if err != nil {
		return "", fmt.Errorf("inserting revision: %w", err)
	}
	return digest, nil
}

func (st *SQLiteStore) Load(ctx context.Context, digest string) (*Revision, error) {
	row := st.conn.QueryRowContext(ctx,
		`SELECT digest, document, revision, created_at, blob FROM revisions WHERE digest = ?`,
		digest,
	)
	return scanRevision(row, digest)
}

func (st *SQLiteStore) Latest(ctx context.Context, document string) (*Revision, error) {
	row := st.conn.QueryRowContext(ctx,
		`SELECT digest, document, revision, created_at, blob FROM revisions
		 WHERE document = ? ORDER BY revision DESC LIMIT 1`,
		document,
	)
	return scanRevision(row, document)
}

func (st *SQLiteStore) List(ctx context.Context, document string, limit int) ([]*Revision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := st.conn.QueryContext(ctx,
		`SELECT digest, document, revision, created_at, blob FROM revisions
		 WHERE document = ? ORDER BY revision DESC LIMIT ?`,
		document, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	defer rows.Close()

	var revs []*Revision
	for rows.Next() {
		rev, err := scanRevision(rows, document)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

func (st *SQLiteStore) Close() error {
	return st.conn.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(row rowScanner, key string) (*Revision, error) {
	var (
		rev       Revision
		createdMs int64
		blob      []byte
	)
	err := row.Scan(&rev.Digest, &rev.Document, &rev.Revision, &createdMs, &blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning revision: %w", err)
	}

	rev.CreatedAt = time.UnixMilli(createdMs)
	rev.Snapshot, err = DecodeSnapshot(blob, rev.Digest)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}
