package hub

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/kb"
	"github.com/signalsfoundry/flowcanvas/model"
	"github.com/signalsfoundry/flowcanvas/timectrl"
)

func flowFixture() model.Snapshot {
	return model.Snapshot{
		Nodes: []model.Node{
			{ID: "a", Kind: "trigger"},
			{ID: "b", Kind: "agent", Position: model.Point{X: 300, Y: 200}},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "a", Target: "b"},
		},
	}
}

func managerFixture(t *testing.T) (*SessionManager, *kb.FlowBase, *timectrl.ManualClock) {
	t.Helper()

	flows := kb.NewFlowBase()
	if _, err := flows.Put("triage", flowFixture()); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	clock := timectrl.NewManualClock(time.Unix(1000, 0))
	sm := NewSessionManager(flows, logging.Noop(), WithSessionClock(clock))
	t.Cleanup(sm.Close)
	return sm, flows, clock
}

func TestCreateSeedsFromRegistry(t *testing.T) {
	sm, _, _ := managerFixture(t)

	sess, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	nodes, edges, _ := sess.Controller.Canvas().Counts()
	if nodes != 2 || edges != 1 {
		t.Fatalf("seeded canvas = (%d, %d), want (2, 1)", nodes, edges)
	}
}

func TestCreateCollapsesNodeBasedDocuments(t *testing.T) {
	sm, flows, _ := managerFixture(t)

	doc := model.Snapshot{
		Nodes: []model.Node{
			{ID: "a", Kind: "trigger"},
			{ID: "w", Kind: model.KindWaypoint, Position: model.Point{X: 150, Y: 100}},
			{ID: "b", Kind: "agent"},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "a", Target: "w"},
			{ID: "s1", Source: "w", Target: "b"},
		},
	}
	if _, err := flows.Put("noded", doc); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	sess, err := sm.Create("noded")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	nodes, edges, waypoints := sess.Controller.Canvas().Counts()
	if nodes != 2 || edges != 1 || waypoints != 0 {
		t.Fatalf("node-based document not collapsed: (%d, %d, %d)", nodes, edges, waypoints)
	}
	edge := sess.Controller.Canvas().Edge("e1")
	if len(edge.Waypoints) != 1 || edge.Waypoints[0] != (model.Point{X: 150, Y: 100}) {
		t.Fatalf("collapsed waypoints = %+v", edge.Waypoints)
	}
}

func TestCreateRejectsEmptyDocument(t *testing.T) {
	sm, _, _ := managerFixture(t)

	if _, err := sm.Create(""); !errors.Is(err, ErrInvalidEntity) {
		t.Fatalf("Create(\"\") = %v, want ErrInvalidEntity", err)
	}
}

func TestGestureWritesBackToRegistry(t *testing.T) {
	sm, flows, _ := managerFixture(t)

	sess, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if err := sess.Controller.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}

	doc, ok := flows.Get("triage")
	if !ok {
		t.Fatal("document vanished from the registry")
	}
	if doc.Revision != 2 {
		t.Fatalf("registry revision = %d, want 2 after the gesture write", doc.Revision)
	}
	e := doc.Snapshot.Edge("e1")
	if e == nil || len(e.Waypoints) != 1 {
		t.Fatalf("registry snapshot missing the local routing: %+v", e)
	}
}

func TestOwnWriteIsNotReapplied(t *testing.T) {
	sm, flows, _ := managerFixture(t)

	sess, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	if err := sess.Controller.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}

	// An echo of the session's own write would arrive as an external
	// routed snapshot, converge, and clear the split tracking. With the
	// echo suppressed the tracking survives, so a stale flat push from
	// another writer is still filtered.
	if _, err := flows.Put("triage", flowFixture()); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	edge := sess.Controller.Canvas().Edge("e1")
	if len(edge.Waypoints) != 1 || edge.Waypoints[0] != (model.Point{X: 150, Y: 100}) {
		t.Fatalf("own write echoed back and cleared the local routing: %+v", edge.Waypoints)
	}
}

func TestRegistryUpdateFansOutToOtherSessions(t *testing.T) {
	sm, _, _ := managerFixture(t)

	s1, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create(s1) = %v", err)
	}
	s2, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create(s2) = %v", err)
	}

	if err := s1.Controller.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}

	edge := s2.Controller.Canvas().Edge("e1")
	if len(edge.Waypoints) != 1 || edge.Waypoints[0] != (model.Point{X: 150, Y: 100}) {
		t.Fatalf("second session did not receive the routing: %+v", edge.Waypoints)
	}
}

func TestSessionsOnOtherDocumentsAreUntouched(t *testing.T) {
	sm, flows, _ := managerFixture(t)
	if _, err := flows.Put("billing", flowFixture()); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	s1, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create(triage) = %v", err)
	}
	s2, err := sm.Create("billing")
	if err != nil {
		t.Fatalf("Create(billing) = %v", err)
	}

	if err := s1.Controller.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}
	if got := s2.Controller.Canvas().Edge("e1").Waypoints; len(got) != 0 {
		t.Fatalf("cross-document leak: %+v", got)
	}
}

func TestGetAndDelete(t *testing.T) {
	sm, _, _ := managerFixture(t)

	sess, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if sm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", sm.Count())
	}

	got, err := sm.Get(sess.ID)
	if err != nil || got.ID != sess.ID {
		t.Fatalf("Get() = (%+v, %v)", got, err)
	}
	if _, err := sm.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrSessionNotFound", err)
	}

	sm.Delete(sess.ID)
	if sm.Count() != 0 {
		t.Fatalf("Count() after Delete = %d, want 0", sm.Count())
	}
	if _, err := sm.Get(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get(deleted) = %v, want ErrSessionNotFound", err)
	}
}

func TestDeletedSessionStopsReceivingUpdates(t *testing.T) {
	sm, flows, _ := managerFixture(t)

	sess, err := sm.Create("triage")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	sm.Delete(sess.ID)

	moved := flowFixture()
	moved.Nodes[1].Position = model.Point{X: 999, Y: 999}
	if _, err := flows.Put("triage", moved); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	if got := sess.Controller.Canvas().Node("b").Position; got == (model.Point{X: 999, Y: 999}) {
		t.Fatal("closed session still applied a registry update")
	}
}
