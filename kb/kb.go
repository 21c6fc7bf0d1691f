package kb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/flowcanvas/model"
)

var (
	// ErrEmptyDocumentName is returned by Put when the name is blank.
	ErrEmptyDocumentName = errors.New("empty document name")
	// ErrDocumentNotFound is returned when a named document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventDocumentUpdated EventType = iota
	EventDocumentDeleted
)

// Event is emitted to subscribers when a flow document changes.
type Event struct {
	Type     EventType
	Name     string
	Revision int64
	Snapshot model.Snapshot
}

// Document is one named flow document with its revision metadata.
type Document struct {
	Name      string
	Revision  int64
	UpdatedAt time.Time
	Snapshot  model.Snapshot
}

// FlowBase is an in-memory, thread-safe registry of flow documents. It
// is the in-process face of the external authority: hub sessions read
// the current snapshot from it and write engine emissions back, and
// every write fans out to subscribers (which is how the authority
// re-pushes snapshots down to other sessions).
type FlowBase struct {
	mu sync.RWMutex

	docs map[string]*Document

	subs []func(Event)
}

// NewFlowBase constructs an empty registry.
func NewFlowBase() *FlowBase {
	return &FlowBase{
		docs: make(map[string]*Document),
	}
}

// Put stores a snapshot under the given document name, bumping its
// revision, and notifies subscribers. It returns the new revision.
func (fb *FlowBase) Put(name string, snap model.Snapshot) (int64, error) {
	if name == "" {
		return 0, ErrEmptyDocumentName
	}

	fb.mu.Lock()
	doc, ok := fb.docs[name]
	if !ok {
		doc = &Document{Name: name}
		fb.docs[name] = doc
	}
	doc.Revision++
	doc.UpdatedAt = time.Now()
	doc.Snapshot = snap.Clone()

	event := Event{
		Type:     EventDocumentUpdated,
		Name:     name,
		Revision: doc.Revision,
		Snapshot: doc.Snapshot.Clone(),
	}
	subs := append([]func(Event){}, fb.subs...)
	fb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return event.Revision, nil
}

// Get returns a copy of the document with the given name.
func (fb *FlowBase) Get(name string) (*Document, bool) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	doc, ok := fb.docs[name]
	if !ok {
		return nil, false
	}
	out := *doc
	out.Snapshot = doc.Snapshot.Clone()
	return &out, true
}

// List returns the names of all documents.
func (fb *FlowBase) List() []string {
	fb.mu.RLock()
	defer fb.mu.RUnlock()

	names := make([]string, 0, len(fb.docs))
	for name := range fb.docs {
		names = append(names, name)
	}
	return names
}

// Delete removes a document and notifies subscribers.
func (fb *FlowBase) Delete(name string) error {
	fb.mu.Lock()
	doc, ok := fb.docs[name]
	if !ok {
		fb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDocumentNotFound, name)
	}
	delete(fb.docs, name)

	event := Event{
		Type:     EventDocumentDeleted,
		Name:     name,
		Revision: doc.Revision,
	}
	subs := append([]func(Event){}, fb.subs...)
	fb.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (fb *FlowBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.subs = append(fb.subs, fn)
	idx := len(fb.subs) - 1

	return func() {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		if idx < 0 || idx >= len(fb.subs) {
			return
		}
		fb.subs = append(fb.subs[:idx], fb.subs[idx+1:]...)
		idx = -1
	}
}
