package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/flowcanvas/model"
)

// MemoryStore is the in-process RevisionStore, used by tests and the
// default canvasd configuration.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Revision
	byDoc  map[string][]*Revision // append order, oldest first
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Revision),
		byDoc:  make(map[string][]*Revision),
	}
}

func (ms *MemoryStore) Save(_ context.Context, document string, revision int64, snap model.Snapshot) (string, error) {
	_, digest, err := EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.byHash[digest]; ok {
		return digest, nil
	}
	rev := &Revision{
		Digest:    digest,
		Document:  document,
		Revision:  revision,
		CreatedAt: time.Now(),
		Snapshot:  snap.Clone(),
	}
	ms.byHash[digest] = rev
	ms.byDoc[document] = append(ms.byDoc[document], rev)
	return digest, nil
}

func (ms *MemoryStore) Load(_ context.Context, digest string) (*Revision, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rev, ok := ms.byHash[digest]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, digest)
	}
	return cloneRevision(rev), nil
}

func (ms *MemoryStore) Latest(_ context.Context, document string) (*Revision, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	revs := ms.byDoc[document]
	if len(revs) == 0 {
		return nil, fmt.Errorf("%w: document %q", ErrRevisionNotFound, document)
	}
	return cloneRevision(revs[len(revs)-1]), nil
}

func (ms *MemoryStore) List(_ context.Context, document string, limit int) ([]*Revision, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	revs := ms.byDoc[document]
	if limit <= 0 || limit > len(revs) {
		limit = len(revs)
	}

	// Newest first.
	out := make([]*Revision, 0, limit)
	for i := len(revs) - 1; i >= len(revs)-limit; i-- {
		out = append(out, cloneRevision(revs[i]))
	}
	return out, nil
}

func (ms *MemoryStore) Close() error { return nil }

func cloneRevision(rev *Revision) *Revision {
	out := *rev
	out.Snapshot = rev.Snapshot.Clone()
	return &out
}
