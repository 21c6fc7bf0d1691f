package store

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/flowcanvas/model"
)

// exerciseStore runs the RevisionStore contract shared by every
// backend.
func exerciseStore(t *testing.T, st RevisionStore) {
	t.Helper()
	ctx := context.Background()

	first := storedSnapshot()
	d1, err := st.Save(ctx, "triage", 1, first)
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}

	second := storedSnapshot()
	second.Edges[0].Waypoints = nil
	d2, err := st.Save(ctx, "triage", 2, second)
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	if d1 == d2 {
		t.Fatal("distinct snapshots produced the same digest")
	}

	// Saving the same content again is a no-op on the same digest.
	again, err := st.Save(ctx, "triage", 3, first)
	if err != nil {
		t.Fatalf("repeat Save() = %v", err)
	}
	if again != d1 {
		t.Fatalf("repeat Save() digest = %s, want %s", again, d1)
	}

	loaded, err := st.Load(ctx, d1)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if loaded.Document != "triage" || loaded.Revision != 1 {
		t.Fatalf("Load() = %+v", loaded)
	}
	if loaded.Snapshot.Edges[0].Waypoints[0] != (model.Point{X: 150, Y: 100}) {
		t.Fatalf("loaded waypoint = %+v", loaded.Snapshot.Edges[0].Waypoints)
	}

	if _, err := st.Load(ctx, "feedfacefeedface"); !errors.Is(err, ErrRevisionNotFound) {
		t.Fatalf("Load() of unknown digest = %v, want ErrRevisionNotFound", err)
	}

	latest, err := st.Latest(ctx, "triage")
	if err != nil {
		t.Fatalf("Latest() = %v", err)
	}
	if latest.Digest != d2 {
		t.Fatalf("Latest() digest = %s, want %s", latest.Digest, d2)
	}

	if _, err := st.Latest(ctx, "nonesuch"); !errors.Is(err, ErrRevisionNotFound) {
		t.Fatalf("Latest() of unknown document = %v, want ErrRevisionNotFound", err)
	}

	revs, err := st.List(ctx, "triage", 0)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("List() = %d revisions, want 2", len(revs))
	}
	if revs[0].Digest != d2 || revs[1].Digest != d1 {
		t.Fatalf("List() order = [%s %s], want newest first", revs[0].Digest, revs[1].Digest)
	}

	limited, err := st.List(ctx, "triage", 1)
	if err != nil {
		t.Fatalf("List(limit=1) = %v", err)
	}
	if len(limited) != 1 || limited[0].Digest != d2 {
		t.Fatalf("List(limit=1) = %+v", limited)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	st := NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	exerciseStore(t, st)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	digest, err := st.Save(ctx, "triage", 1, storedSnapshot())
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}

	loaded, err := st.Load(ctx, digest)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	loaded.Snapshot.Nodes[0].Position = model.Point{X: -99, Y: -99}

	reloaded, err := st.Load(ctx, digest)
	if err != nil {
		t.Fatalf("second Load() = %v", err)
	}
	if reloaded.Snapshot.Nodes[0].Position != (model.Point{}) {
		t.Fatalf("stored snapshot mutated through a loaded copy: %+v",
			reloaded.Snapshot.Nodes[0].Position)
	}
}
