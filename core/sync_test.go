package core

import (
	"testing"
	"time"

	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/model"
	"github.com/signalsfoundry/flowcanvas/timectrl"
)

type emitRecord struct {
	snap   model.Snapshot
	reason EmitReason
}

type fakeMetrics struct {
	decisions map[string]int
	gestures  map[string]int
	emissions map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		decisions: make(map[string]int),
		gestures:  make(map[string]int),
		emissions: make(map[string]int),
	}
}

func (m *fakeMetrics) RecordSnapshotDecision(decision string) { m.decisions[decision]++ }
func (m *fakeMetrics) RecordEmission(reason string)           { m.emissions[reason]++ }
func (m *fakeMetrics) RecordGesture(kind string)              { m.gestures[kind]++ }
func (m *fakeMetrics) SetCanvasCounts(nodes, edges, waypoints, trackedSplits int) {}

func flowSnapshot() model.Snapshot {
	return model.Snapshot{
		Nodes: []model.Node{
			{ID: "a", Kind: "agent", Position: model.Point{X: 0, Y: 0}},
			{ID: "b", Kind: "agent", Position: model.Point{X: 300, Y: 200}},
		},
		Edges: []model.Edge{
			{ID: "e1", Source: "a", Target: "b"},
		},
	}
}

func syncFixture(t *testing.T) (*SyncController, *timectrl.ManualClock, *[]emitRecord, *fakeMetrics) {
	t.Helper()

	clock := timectrl.NewManualClock(time.Unix(1000, 0))
	metrics := newFakeMetrics()
	sc := NewSyncController(logging.Noop(), WithClock(clock), WithMetricsRecorder(metrics))
	t.Cleanup(sc.Close)

	var emits []emitRecord
	sc.Subscribe(func(snap model.Snapshot, reason EmitReason) {
		emits = append(emits, emitRecord{snap: snap, reason: reason})
	})

	sc.ApplySnapshot(flowSnapshot())
	return sc, clock, &emits, metrics
}

func TestApplySnapshotSeedsCanvasWithoutEmitting(t *testing.T) {
	sc, clock, emits, _ := syncFixture(t)

	nodes, edges, _ := sc.Canvas().Counts()
	if nodes != 2 || edges != 1 {
		t.Fatalf("Counts() = (%d, %d), want (2, 1)", nodes, edges)
	}
	if got := sc.Routes().Route("e1"); len(got) != 2 {
		t.Fatalf("route index not rebuilt after ingest: %+v", got)
	}

	clock.Advance(5 * time.Second)
	if len(*emits) != 0 {
		t.Fatalf("external ingest produced %d emissions, want 0", len(*emits))
	}
}

func TestSnapshotDeferredWhileDragging(t *testing.T) {
	sc, _, _, metrics := syncFixture(t)

	if err := sc.BeginDrag("e1", 0, model.Point{X: 150, Y: 100}, model.DefaultViewport()); err != nil {
		t.Fatalf("BeginDrag() = %v", err)
	}
	if err := sc.MoveDrag(model.Point{X: 150, Y: 160}); err != nil {
		t.Fatalf("MoveDrag() = %v", err)
	}
	dragged := append([]model.Point(nil), sc.Canvas().Edge("e1").Waypoints...)

	// The authority pushes stale routing plus an edge the drag never
	// touched. Edge data is dropped wholesale while the session is open.
	incoming := flowSnapshot()
	incoming.Edges[0].Waypoints = []model.Point{{X: 999, Y: 999}}
	incoming.Nodes = append(incoming.Nodes, model.Node{ID: "c", Kind: "agent", Position: model.Point{X: 600, Y: 0}})
	incoming.Edges = append(incoming.Edges, model.Edge{ID: "e2", Source: "b", Target: "c"})
	sc.ApplySnapshot(incoming)

	edge := sc.Canvas().Edge("e1")
	if len(edge.Waypoints) != len(dragged) || edge.Waypoints[0] != dragged[0] {
		t.Fatalf("drag-held edge overwritten: %+v, want %+v", edge.Waypoints, dragged)
	}
	if sc.Canvas().Edge("e2") != nil {
		t.Fatal("incoming edge applied during drag hold")
	}
	if sc.Canvas().Node("c") == nil {
		t.Fatal("incoming node dropped during drag hold")
	}
	if metrics.decisions[DecisionDeferred] == 0 {
		t.Fatal("deferred decision not recorded")
	}

	sc.CancelDrag()
	if sc.DragActive() {
		t.Fatal("drag still active after CancelDrag")
	}
}

func TestGraceWindowHoldsThenReleases(t *testing.T) {
	sc, clock, _, _ := syncFixture(t)

	// A no-op drag leaves the edge unrouted and nothing tracked, so only
	// the grace window can be holding the next push back.
	if err := sc.BeginDrag("e1", 0, model.Point{X: 150, Y: 100}, model.DefaultViewport()); err != nil {
		t.Fatalf("BeginDrag() = %v", err)
	}
	if err := sc.EndDrag(); err != nil {
		t.Fatalf("EndDrag() = %v", err)
	}

	incoming := flowSnapshot()
	incoming.Edges[0].Waypoints = []model.Point{{X: 150, Y: 0}}

	sc.ApplySnapshot(incoming)
	if got := sc.Canvas().Edge("e1").Waypoints; len(got) != 0 {
		t.Fatalf("push applied inside the grace window: %+v", got)
	}

	clock.Advance(DefaultGraceWindow + time.Millisecond)
	sc.ApplySnapshot(incoming)
	if got := sc.Canvas().Edge("e1").Waypoints; len(got) != 1 || got[0] != (model.Point{X: 150, Y: 0}) {
		t.Fatalf("push not applied after the grace window: %+v", got)
	}
}

func TestGestureEmitsOnceAndSupersedesDebounce(t *testing.T) {
	sc, clock, emits, metrics := syncFixture(t)

	if err := sc.BeginDrag("e1", 0, model.Point{X: 150, Y: 100}, model.DefaultViewport()); err != nil {
		t.Fatalf("BeginDrag() = %v", err)
	}
	if err := sc.MoveDrag(model.Point{X: 150, Y: 160}); err != nil {
		t.Fatalf("MoveDrag() = %v", err)
	}
	if err := sc.EndDrag(); err != nil {
		t.Fatalf("EndDrag() = %v", err)
	}

	// The pending debounce from MoveDrag must not fire a second time.
	clock.Advance(DefaultDebounceWindow * 2)

	if len(*emits) != 1 {
		t.Fatalf("drag gesture emitted %d times, want 1", len(*emits))
	}
	if (*emits)[0].reason != EmitGesture {
		t.Fatalf("emission reason = %q, want %q", (*emits)[0].reason, EmitGesture)
	}
	if metrics.emissions[string(EmitDebounced)] != 0 {
		t.Fatal("debounced emission recorded despite the immediate flush")
	}
}

func TestContinuousMovesDebounceToOneEmission(t *testing.T) {
	sc, clock, emits, _ := syncFixture(t)

	for i := 0; i < 5; i++ {
		if err := sc.MoveNode("a", model.Point{X: float64(i * 10), Y: 0}); err != nil {
			t.Fatalf("MoveNode() #%d = %v", i, err)
		}
		clock.Advance(100 * time.Millisecond)
	}
	if len(*emits) != 0 {
		t.Fatalf("emission fired before the debounce window elapsed: %d", len(*emits))
	}

	clock.Advance(DefaultDebounceWindow)
	if len(*emits) != 1 {
		t.Fatalf("continuous node moves emitted %d times, want 1", len(*emits))
	}
	if (*emits)[0].reason != EmitDebounced {
		t.Fatalf("emission reason = %q, want %q", (*emits)[0].reason, EmitDebounced)
	}
}

func TestDragEndEmissionCarriesSimplifiedRoute(t *testing.T) {
	sc, _, emits, _ := syncFixture(t)

	if err := sc.BeginDrag("e1", 0, model.Point{X: 150, Y: 100}, model.DefaultViewport()); err != nil {
		t.Fatalf("BeginDrag() = %v", err)
	}
	if err := sc.MoveDrag(model.Point{X: 150, Y: 160}); err != nil {
		t.Fatalf("MoveDrag() = %v", err)
	}
	if err := sc.EndDrag(); err != nil {
		t.Fatalf("EndDrag() = %v", err)
	}

	if len(*emits) != 1 {
		t.Fatalf("EndDrag emitted %d times, want 1", len(*emits))
	}
	emitted := (*emits)[0].snap.Edge("e1")
	if emitted == nil || len(emitted.Waypoints) == 0 {
		t.Fatalf("emitted snapshot lost the dragged routing: %+v", emitted)
	}
}

func TestTrackedPairFiltersStaleFlatEdge(t *testing.T) {
	sc, clock, _, metrics := syncFixture(t)

	if err := sc.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}
	clock.Advance(DefaultGraceWindow * 2)

	// The authority has not seen the local routing yet and re-pushes the
	// flat edge; the local realization survives.
	sc.ApplySnapshot(flowSnapshot())

	edge := sc.Canvas().Edge("e1")
	if edge == nil || len(edge.Waypoints) != 1 {
		t.Fatalf("local routing lost to a stale flat push: %+v", edge)
	}
	if metrics.decisions[DecisionFiltered] == 0 {
		t.Fatal("filtered decision not recorded")
	}
}

func TestConvergentPushClearsTrackingAndWins(t *testing.T) {
	sc, clock, _, metrics := syncFixture(t)

	if err := sc.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}
	clock.Advance(DefaultGraceWindow * 2)

	// The authority caught up and persisted the routing; its version is
	// now trusted fully, including any server-side cleanup.
	incoming := flowSnapshot()
	incoming.Edges[0].Waypoints = []model.Point{{X: 151, Y: 101}}
	sc.ApplySnapshot(incoming)

	edge := sc.Canvas().Edge("e1")
	if len(edge.Waypoints) != 1 || edge.Waypoints[0] != (model.Point{X: 151, Y: 101}) {
		t.Fatalf("convergent push not applied: %+v", edge.Waypoints)
	}
	if metrics.decisions[DecisionConverged] == 0 {
		t.Fatal("converged decision not recorded")
	}

	// With the tracking entry cleared, a later flat push applies too.
	sc.ApplySnapshot(flowSnapshot())
	if got := sc.Canvas().Edge("e1").Waypoints; len(got) != 0 {
		t.Fatalf("tracking entry survived convergence: %+v", got)
	}
}

func TestAuthorityRevisesItsOwnRouting(t *testing.T) {
	sc, _, _, metrics := syncFixture(t)

	routed := flowSnapshot()
	routed.Edges[0].Waypoints = []model.Point{{X: 150, Y: 100}}
	sc.ApplySnapshot(routed)

	// Nothing was edited locally, so the authority is free to revise the
	// routing it pushed.
	revised := flowSnapshot()
	revised.Edges[0].Waypoints = []model.Point{{X: 90, Y: 40}}
	sc.ApplySnapshot(revised)

	edge := sc.Canvas().Edge("e1")
	if len(edge.Waypoints) != 1 || edge.Waypoints[0] != (model.Point{X: 90, Y: 40}) {
		t.Fatalf("revised routing not applied: %+v", edge.Waypoints)
	}

	// Or to flatten it again.
	sc.ApplySnapshot(flowSnapshot())
	if got := sc.Canvas().Edge("e1").Waypoints; len(got) != 0 {
		t.Fatalf("flattening push not applied: %+v", got)
	}
	if metrics.decisions[DecisionFiltered] != 0 {
		t.Fatalf("authority-owned routing filtered %d times, want 0", metrics.decisions[DecisionFiltered])
	}
}

func TestSplitConvergenceDropsLocalHalves(t *testing.T) {
	sc, clock, _, _ := syncFixture(t)

	if _, err := sc.SplitEdge("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("SplitEdge() = %v", err)
	}
	if _, _, waypoints := sc.Canvas().Counts(); waypoints != 1 {
		t.Fatalf("split created %d waypoint nodes, want 1", waypoints)
	}
	clock.Advance(DefaultGraceWindow * 2)

	incoming := flowSnapshot()
	incoming.Edges[0].Waypoints = []model.Point{{X: 150, Y: 100}}
	sc.ApplySnapshot(incoming)

	nodes, edges, waypoints := sc.Canvas().Counts()
	if nodes != 2 || edges != 1 || waypoints != 0 {
		t.Fatalf("Counts() after convergence = (%d, %d, %d), want (2, 1, 0)", nodes, edges, waypoints)
	}
	if sc.Canvas().Edge("e1") == nil {
		t.Fatal("authoritative edge missing after convergence")
	}
}

func TestTrackedSplitSurvivesPushWithoutThePair(t *testing.T) {
	sc, clock, _, _ := syncFixture(t)

	wpID, err := sc.SplitEdge("e1", model.Point{X: 150, Y: 100})
	if err != nil {
		t.Fatalf("SplitEdge() = %v", err)
	}
	clock.Advance(DefaultGraceWindow * 2)

	// Authority re-pushes the stale flat edge: the local split stays.
	sc.ApplySnapshot(flowSnapshot())

	if sc.Canvas().Node(wpID) == nil {
		t.Fatal("local waypoint node lost to a stale push")
	}
	nodes, edges, _ := sc.Canvas().Counts()
	if nodes != 3 || edges != 2 {
		t.Fatalf("Counts() = (%d, %d), want the split's (3, 2)", nodes, edges)
	}
}

func TestUnreconcilableExternalRoutingWins(t *testing.T) {
	sc, clock, _, metrics := syncFixture(t)

	if err := sc.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}
	clock.Advance(DefaultGraceWindow * 2)

	// Incoming routing shares no anchor with the local one: another
	// editor moved the edge somewhere else entirely.
	incoming := flowSnapshot()
	incoming.Edges[0].Waypoints = []model.Point{{X: 900, Y: 900}}
	sc.ApplySnapshot(incoming)

	edge := sc.Canvas().Edge("e1")
	if len(edge.Waypoints) != 1 || edge.Waypoints[0] != (model.Point{X: 900, Y: 900}) {
		t.Fatalf("unreconcilable external routing not applied: %+v", edge.Waypoints)
	}
	if metrics.decisions[DecisionExternalWins] == 0 {
		t.Fatal("external-wins decision not recorded")
	}
}

func TestTrackedNodePositionBeatsExternal(t *testing.T) {
	sc, _, _, _ := syncFixture(t)

	if err := sc.MoveNode("a", model.Point{X: 42, Y: 17}); err != nil {
		t.Fatalf("MoveNode() = %v", err)
	}
	if err := sc.StopNodeDrag("a"); err != nil {
		t.Fatalf("StopNodeDrag() = %v", err)
	}

	incoming := flowSnapshot()
	incoming.Nodes[0].Position = model.Point{X: -5, Y: -5}
	incoming.Nodes[1].Position = model.Point{X: 500, Y: 500}
	sc.ApplySnapshot(incoming)

	if got := sc.Canvas().Node("a").Position; got != (model.Point{X: 42, Y: 17}) {
		t.Fatalf("tracked node position overwritten: %+v", got)
	}
	// The untracked node follows the authority.
	if got := sc.Canvas().Node("b").Position; got != (model.Point{X: 500, Y: 500}) {
		t.Fatalf("untracked node position not applied: %+v", got)
	}
}

func TestSelectionNeverComesFromExternal(t *testing.T) {
	sc, _, _, _ := syncFixture(t)

	if err := sc.SelectEdge("e1"); err != nil {
		t.Fatalf("SelectEdge() = %v", err)
	}

	incoming := flowSnapshot()
	incoming.Nodes[0].Selected = true
	sc.ApplySnapshot(incoming)

	if sc.Canvas().SelectedEdge() != "e1" {
		t.Fatal("local edge selection lost on external push")
	}
	if sc.Canvas().Node("a").Selected {
		t.Fatal("node selection taken from external snapshot")
	}
}

func TestWaypointRemoveRoundTripReleasesTracking(t *testing.T) {
	sc, clock, emits, _ := syncFixture(t)

	if err := sc.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}
	if err := sc.RemoveWaypoint("e1", 0); err != nil {
		t.Fatalf("RemoveWaypoint() = %v", err)
	}
	if len(*emits) != 2 {
		t.Fatalf("insert+remove emitted %d times, want 2", len(*emits))
	}

	// Nothing tracked anymore: a flat authoritative push applies clean.
	clock.Advance(DefaultGraceWindow * 2)
	sc.ApplySnapshot(flowSnapshot())
	if got := sc.Canvas().Edge("e1").Waypoints; len(got) != 0 {
		t.Fatalf("tracking survived the remove round trip: %+v", got)
	}
}

func TestRejoinClearsTrackingEntry(t *testing.T) {
	sc, clock, _, _ := syncFixture(t)

	wpID, err := sc.SplitEdge("e1", model.Point{X: 150, Y: 100})
	if err != nil {
		t.Fatalf("SplitEdge() = %v", err)
	}
	if err := sc.RejoinWaypoint(wpID); err != nil {
		t.Fatalf("RejoinWaypoint() = %v", err)
	}

	clock.Advance(DefaultGraceWindow * 2)
	sc.ApplySnapshot(flowSnapshot())

	nodes, edges, waypoints := sc.Canvas().Counts()
	if nodes != 2 || edges != 1 || waypoints != 0 {
		t.Fatalf("Counts() after rejoin and push = (%d, %d, %d), want (2, 1, 0)", nodes, edges, waypoints)
	}
}

func TestDeleteWaypointNodeBecomesRejoin(t *testing.T) {
	sc, _, _, _ := syncFixture(t)

	wpID, err := sc.SplitEdge("e1", model.Point{X: 150, Y: 100})
	if err != nil {
		t.Fatalf("SplitEdge() = %v", err)
	}
	if err := sc.DeleteNode(wpID); err != nil {
		t.Fatalf("DeleteNode(waypoint) = %v", err)
	}

	nodes, edges, _ := sc.Canvas().Counts()
	if nodes != 2 || edges != 1 {
		t.Fatalf("Counts() after waypoint delete = (%d, %d), want the rejoined (2, 1)", nodes, edges)
	}
}

func TestDeleteRegularNodeCascades(t *testing.T) {
	sc, _, _, _ := syncFixture(t)

	if err := sc.DeleteNode("b"); err != nil {
		t.Fatalf("DeleteNode() = %v", err)
	}
	nodes, edges, _ := sc.Canvas().Counts()
	if nodes != 1 || edges != 0 {
		t.Fatalf("Counts() = (%d, %d), want (1, 0)", nodes, edges)
	}
}

func TestCloseCancelsPendingDebounce(t *testing.T) {
	sc, clock, emits, _ := syncFixture(t)

	if err := sc.MoveNode("a", model.Point{X: 10, Y: 10}); err != nil {
		t.Fatalf("MoveNode() = %v", err)
	}
	sc.Close()

	clock.Advance(DefaultDebounceWindow * 2)
	if len(*emits) != 0 {
		t.Fatalf("pending debounce fired after Close: %d emissions", len(*emits))
	}
}

func TestUnsubscribeStopsEmissions(t *testing.T) {
	sc, _, _, _ := syncFixture(t)

	calls := 0
	unsubscribe := sc.Subscribe(func(model.Snapshot, EmitReason) { calls++ })
	unsubscribe()

	if err := sc.InsertWaypoint("e1", model.Point{X: 150, Y: 100}); err != nil {
		t.Fatalf("InsertWaypoint() = %v", err)
	}
	if calls != 0 {
		t.Fatalf("unsubscribed callback ran %d times", calls)
	}
}
