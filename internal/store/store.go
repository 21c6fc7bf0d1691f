// Package store persists emitted snapshots as content-addressed
// revisions. Every revision is the canonical JSON of a snapshot,
// zstd-compressed, keyed by the blake3 digest of the uncompressed
// bytes. Memory, SQLite, and Postgres backends share one interface.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/flowcanvas/model"
)

var (
	// ErrRevisionNotFound is returned when no revision matches a digest or document.
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrDigestMismatch is returned when stored bytes no longer hash to their digest.
	ErrDigestMismatch = errors.New("revision digest mismatch")
)

// Revision is one persisted snapshot with its provenance.
type Revision struct {
	Digest    string
	Document  string
	Revision  int64
	CreatedAt time.Time
	Snapshot  model.Snapshot
}

// RevisionStore persists and retrieves snapshot revisions. Save is
// idempotent on digest.
type RevisionStore interface {
	Save(ctx context.Context, document string, revision int64, snap model.Snapshot) (digest string, err error)
	Load(ctx context.Context, digest string) (*Revision, error)
	Latest(ctx context.Context, document string) (*Revision, error)
	List(ctx context.Context, document string, limit int) ([]*Revision, error)
	Close() error
}
