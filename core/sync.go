// core/sync.go
package core

import (
	"sync"
	"time"

	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/model"
	"github.com/signalsfoundry/flowcanvas/timectrl"
)

// EmitReason says why a snapshot emission happened.
type EmitReason string

const (
	// EmitDebounced is a coalesced emission after continuous change.
	EmitDebounced EmitReason = "debounced"
	// EmitGesture is an immediate emission after a discrete completed
	// gesture (drag release, waypoint insert/remove, node drag-stop).
	EmitGesture EmitReason = "gesture"
)

// Snapshot arbitration decisions, recorded per incoming edge.
const (
	DecisionApplied      = "applied"
	DecisionConverged    = "converged"
	DecisionFiltered     = "filtered"
	DecisionExternalWins = "external_wins"
	DecisionDeferred     = "deferred"
)

// EmitFunc receives upward snapshot emissions.
type EmitFunc func(snap model.Snapshot, reason EmitReason)

// SyncMetricsRecorder receives counters from the controller. All
// methods must be cheap; they are called with the controller lock held.
type SyncMetricsRecorder interface {
	RecordSnapshotDecision(decision string)
	RecordEmission(reason string)
	RecordGesture(kind string)
	SetCanvasCounts(nodes, edges, waypoints, trackedSplits int)
}

// SyncController arbitrates between externally-pushed authoritative
// snapshots and locally in-progress edits. It exclusively owns the live
// canvas: every gesture and every external push flows through it, and
// no other component performs the authoritative merge.
//
// The rule set, in priority order:
//  1. While a drag session is open, or within the grace window after
//     one ends, external edge data is not applied.
//  2. External routing for a tracked split pair is trusted fully and
//     clears the tracking entry; otherwise incoming edges for tracked
//     pairs are filtered and the local edges merged back in. Routing
//     the authority already owns is never filtered.
//  3. External node positions apply only to nodes without a
//     locally-tracked position.
//  4. Emissions are debounced for continuous change and immediate for
//     discrete gestures; an immediate flush supersedes the pending
//     debounce so one gesture never emits twice.
type SyncController struct {
	mu sync.Mutex

	canvas   *Canvas
	routes   *RouteIndex
	reshaper *Reshaper
	profile  Profile
	clock    timectrl.Clock
	debounce *timectrl.Debouncer
	log      logging.Logger
	metrics  SyncMetricsRecorder

	// tracked records logical source→target pairs that were split or
	// routed locally and the authority does not know about yet.
	tracked map[string]struct{}

	// graceUntil extends local edge authority past the end of a drag.
	graceUntil time.Time

	subs   []EmitFunc
	closed bool
}

// SyncOption customises SyncController construction.
type SyncOption func(*SyncController)

// WithClock substitutes the clock used for debounce and grace windows.
func WithClock(clock timectrl.Clock) SyncOption {
	return func(sc *SyncController) {
		if clock != nil {
			sc.clock = clock
		}
	}
}

// WithProfile overrides the routing profile.
func WithProfile(p Profile) SyncOption {
	return func(sc *SyncController) {
		sc.profile = p
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m SyncMetricsRecorder) SyncOption {
	return func(sc *SyncController) {
		sc.metrics = m
	}
}

// NewSyncController wires a controller around an empty canvas.
func NewSyncController(log logging.Logger, opts ...SyncOption) *SyncController {
	if log == nil {
		log = logging.Noop()
	}
	sc := &SyncController{
		canvas:  NewCanvas(),
		profile: DefaultProfile(),
		clock:   timectrl.Real(),
		log:     log,
		tracked: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sc)
		}
	}
	sc.routes = NewRouteIndex(sc.canvas, sc.profile)
	sc.reshaper = NewReshaper(sc.canvas, sc.profile)
	sc.debounce = timectrl.NewDebouncer(sc.clock, sc.profile.DebounceWindow)
	return sc
}

// Canvas exposes the live canvas for read access (selection, hover,
// rendering). Mutations must go through the controller.
func (sc *SyncController) Canvas() *Canvas { return sc.canvas }

// Routes exposes the derived route/handle index.
func (sc *SyncController) Routes() *RouteIndex { return sc.routes }

// Snapshot returns a deep copy of the current (nodes, edges) state.
func (sc *SyncController) Snapshot() model.Snapshot {
	return sc.canvas.Snapshot()
}

// Subscribe registers an emission callback and returns an unsubscribe
// function. Callbacks run outside the controller lock.
func (sc *SyncController) Subscribe(fn EmitFunc) (unsubscribe func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.subs = append(sc.subs, fn)
	idx := len(sc.subs) - 1

	return func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if idx < 0 || idx >= len(sc.subs) {
			return
		}
		sc.subs = append(sc.subs[:idx], sc.subs[idx+1:]...)
		idx = -1
	}
}

//
// ---------- External snapshot ingest ----------
//

// ApplySnapshot reconciles an externally-pushed authoritative snapshot
// against local state per the arbitration rules. It never emits: the
// authority already has what it pushed.
func (sc *SyncController) ApplySnapshot(snap model.Snapshot) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return
	}

	incoming := snap.Clone()
	localEdges := sc.canvas.Edges()
	dragHold := sc.reshaper.Active() || sc.clock.Now().Before(sc.graceUntil)

	var edges []*model.Edge
	preservedNodes := make(map[string]*model.Node)

	switch {
	case dragHold:
		// Rule 1: local edge state stays authoritative. Incoming edge
		// data is dropped wholesale for this push; the authority will
		// re-push once the loop closes after release.
		sc.recordDecision(DecisionDeferred)
		for _, e := range localEdges {
			edges = append(edges, e.Clone())
		}
		for _, e := range localEdges {
			sc.preserveEndpointNodesLocked(e, preservedNodes)
		}
	default:
		edges = sc.mergeEdgesLocked(incoming, localEdges, preservedNodes)
	}

	// Rule 3: external node positions apply only where no local
	// position is tracked. Selection flags never come from outside.
	merged := model.Snapshot{}
	seen := make(map[string]bool, len(incoming.Nodes))
	for i := range incoming.Nodes {
		n := incoming.Nodes[i]
		n.Selected = false
		if local := sc.canvas.Node(n.ID); local != nil {
			if pos, ok := sc.canvas.TrackedPosition(n.ID); ok {
				n.Position = pos
			}
			n.Selected = local.Selected
		}
		merged.Nodes = append(merged.Nodes, n)
		seen[n.ID] = true
	}
	// Locally-created waypoint nodes and preserved endpoints the
	// authority does not know yet survive the merge.
	for _, n := range preservedNodes {
		if !seen[n.ID] {
			merged.Nodes = append(merged.Nodes, *n.Clone())
			seen[n.ID] = true
		}
	}

	for _, e := range edges {
		merged.Edges = append(merged.Edges, *e)
	}

	sc.canvas.Replace(merged)
	sc.routes.RebuildAll()
	sc.updateMetricsLocked()
}

// mergeEdgesLocked applies rule 2 to the incoming edge set.
//
// NOTE: caller must hold sc.mu.
func (sc *SyncController) mergeEdgesLocked(incoming model.Snapshot, localEdges []*model.Edge, preservedNodes map[string]*model.Node) []*model.Edge {
	localByPair := make(map[string][]*model.Edge)
	for _, e := range localEdges {
		pair := sc.logicalPairLocked(e)
		localByPair[pair] = append(localByPair[pair], e)
	}

	incomingRouted := make(map[string]bool)
	for i := range incoming.Edges {
		e := &incoming.Edges[i]
		if len(e.Waypoints) > 0 || sc.isSplitHalf(incoming, e) {
			incomingRouted[sc.logicalPair(incoming, e)] = true
		}
	}

	var out []*model.Edge
	preservedPairs := make(map[string]bool)

	for i := range incoming.Edges {
		e := incoming.Edges[i].Clone()
		e.Selected = false
		pair := sc.logicalPair(incoming, e)

		_, isTracked := sc.tracked[pair]

		switch {
		case isTracked && incomingRouted[pair]:
			// Authority pushed a routed realization of a tracked pair.
			// Sharing an anchor with the local routing (or arriving as
			// the split itself) means the loop closed: trust it fully
			// and drop the tracking entry. A routed push sharing no
			// anchor was authored elsewhere and wins outright.
			delete(sc.tracked, pair)
			if sc.isSplitHalf(incoming, e) || sc.sharesAnchorLocked(localByPair[pair], e) {
				sc.recordDecision(DecisionConverged)
			} else {
				sc.recordDecision(DecisionExternalWins)
			}
			out = append(out, e)
		case isTracked:
			// Authority has not seen the local routing yet: exclude its
			// stale flat edge and keep ours below. Untracked routing was
			// authored (or already accepted) by the authority, so a later
			// push for it applies unconditionally.
			sc.recordDecision(DecisionFiltered)
			preservedPairs[pair] = true
		default:
			sc.recordDecision(DecisionApplied)
			out = append(out, e)
		}
	}

	// Tracked pairs absent from the push entirely keep their local
	// realization too.
	for pair := range sc.tracked {
		preservedPairs[pair] = true
	}

	for pair := range preservedPairs {
		for _, le := range localByPair[pair] {
			out = append(out, le.Clone())
			sc.preserveEndpointNodesLocked(le, preservedNodes)
		}
	}
	return out
}

// logicalPair resolves an edge to its logical source→target pair within
// a snapshot, looking through waypoint nodes so both halves of a split
// map to the original pair.
func (sc *SyncController) logicalPair(snap model.Snapshot, e *model.Edge) string {
	source, target := e.Source, e.Target
	if n := snap.Node(source); n != nil && n.IsWaypoint() {
		if up := findUpstream(snap, source); up != "" {
			source = up
		}
	}
	if n := snap.Node(target); n != nil && n.IsWaypoint() {
		if down := findDownstream(snap, target); down != "" {
			target = down
		}
	}
	return model.PairKey(source, target)
}

// logicalPairLocked is logicalPair against the live canvas.
func (sc *SyncController) logicalPairLocked(e *model.Edge) string {
	source, target := e.Source, e.Target
	if n := sc.canvas.Node(source); n != nil && n.IsWaypoint() {
		if in := sc.canvas.IncomingEdges(source); len(in) == 1 {
			source = in[0].Source
		}
	}
	if n := sc.canvas.Node(target); n != nil && n.IsWaypoint() {
		if out := sc.canvas.OutgoingEdges(target); len(out) == 1 {
			target = out[0].Target
		}
	}
	return model.PairKey(source, target)
}

func (sc *SyncController) isSplitHalf(snap model.Snapshot, e *model.Edge) bool {
	if n := snap.Node(e.Source); n != nil && n.IsWaypoint() {
		return true
	}
	if n := snap.Node(e.Target); n != nil && n.IsWaypoint() {
		return true
	}
	return false
}

// sharesAnchorLocked reports whether an incoming routed edge has at
// least one waypoint coinciding with the local realization of the same
// pair, i.e. the two routings are reconcilable.
func (sc *SyncController) sharesAnchorLocked(local []*model.Edge, incoming *model.Edge) bool {
	for _, le := range local {
		anchors := append([]model.Point(nil), le.Waypoints...)
		if n := sc.canvas.Node(le.Target); n != nil && n.IsWaypoint() {
			anchors = append(anchors, n.Position)
		}
		for _, a := range anchors {
			for _, w := range incoming.Waypoints {
				if Distance(a, w) < sc.profile.CoincidenceTolerance {
					return true
				}
			}
		}
	}
	return false
}

// preserveEndpointNodesLocked collects the nodes a preserved local edge
// needs, so filtering an incoming edge never strands a dangling edge.
func (sc *SyncController) preserveEndpointNodesLocked(e *model.Edge, nodes map[string]*model.Node) {
	for _, id := range []string{e.Source, e.Target} {
		if n := sc.canvas.Node(id); n != nil {
			nodes[id] = n
		}
	}
}

//
// ---------- Gestures ----------
//

// BeginDrag opens a reshaping drag on one segment of an edge.
func (sc *SyncController) BeginDrag(edgeID string, segment int, pointer model.Point, vp model.Viewport) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.reshaper.Begin(edgeID, segment, pointer, vp); err != nil {
		return err
	}
	sc.recordGesture("drag_begin")
	sc.routes.Rebuild(edgeID)
	return nil
}

// MoveDrag applies a pointer-move to the open drag session and requests
// a debounced emission.
func (sc *SyncController) MoveDrag(pointer model.Point) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.reshaper.Move(pointer); err != nil {
		return err
	}
	sc.routes.Rebuild(sc.reshaper.EdgeID())
	sc.requestEmitLocked(false)
	return nil
}

// EndDrag closes the drag session, simplifies the edge, opens the grace
// window, and emits immediately.
func (sc *SyncController) EndDrag() error {
	sc.mu.Lock()

	edgeID := sc.reshaper.EdgeID()
	_, err := sc.reshaper.End()
	sc.graceUntil = sc.clock.Now().Add(sc.profile.GraceWindow)
	if edgeID != "" {
		if edge := sc.canvas.Edge(edgeID); edge != nil {
			if len(edge.Waypoints) > 0 {
				sc.tracked[edge.PairKey()] = struct{}{}
			} else {
				delete(sc.tracked, edge.PairKey())
			}
		}
		sc.routes.Rebuild(edgeID)
	}
	if err != nil {
		sc.mu.Unlock()
		return err
	}
	sc.recordGesture("drag_end")
	sc.updateMetricsLocked()
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return nil
}

// CancelDrag rolls the dragged edge back and clears the session without
// emitting.
func (sc *SyncController) CancelDrag() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	edgeID := sc.reshaper.EdgeID()
	sc.reshaper.Cancel()
	if edgeID != "" {
		sc.routes.Rebuild(edgeID)
	}
}

// DragActive reports whether a reshaping drag is open.
func (sc *SyncController) DragActive() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.reshaper.Active()
}

// InsertWaypoint handles a double-click on an edge body: a routing
// point is added to the edge-owned sequence, the pair is tracked, and
// the snapshot emits immediately.
func (sc *SyncController) InsertWaypoint(edgeID string, at model.Point) error {
	sc.mu.Lock()

	if _, err := InsertWaypoint(sc.canvas, edgeID, at); err != nil {
		sc.mu.Unlock()
		return err
	}
	if edge := sc.canvas.Edge(edgeID); edge != nil {
		sc.tracked[edge.PairKey()] = struct{}{}
	}
	sc.recordGesture("waypoint_insert")
	sc.routes.Rebuild(edgeID)
	sc.updateMetricsLocked()
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return nil
}

// RemoveWaypoint handles a double-click on a routing point: the point
// drops out of the edge-owned sequence and the snapshot emits
// immediately. The pair stays tracked while waypoints remain.
func (sc *SyncController) RemoveWaypoint(edgeID string, index int) error {
	sc.mu.Lock()

	if err := RemoveWaypointAt(sc.canvas, edgeID, index); err != nil {
		sc.mu.Unlock()
		return err
	}
	if edge := sc.canvas.Edge(edgeID); edge != nil && len(edge.Waypoints) == 0 {
		delete(sc.tracked, edge.PairKey())
	}
	sc.recordGesture("waypoint_remove")
	sc.routes.Rebuild(edgeID)
	sc.updateMetricsLocked()
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return nil
}

// SplitEdge handles a double-click on an edge in the node-based
// representation: the edge splits around a new waypoint node.
func (sc *SyncController) SplitEdge(edgeID string, at model.Point) (string, error) {
	sc.mu.Lock()

	edge := sc.canvas.Edge(edgeID)
	if edge == nil {
		sc.mu.Unlock()
		return "", ErrEdgeNotFound
	}
	pair := edge.PairKey()

	wpID, err := SplitEdge(sc.canvas, edgeID, at)
	if err != nil {
		sc.mu.Unlock()
		return "", err
	}
	sc.tracked[pair] = struct{}{}
	sc.recordGesture("edge_split")
	sc.routes.RebuildAll()
	sc.updateMetricsLocked()
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return wpID, nil
}

// RejoinWaypoint handles a double-click on a waypoint node: its two
// edges merge back into one and the tracking entry clears.
func (sc *SyncController) RejoinWaypoint(nodeID string) error {
	sc.mu.Lock()

	merged, err := RejoinWaypoint(sc.canvas, nodeID, sc.log)
	if err != nil {
		sc.mu.Unlock()
		return err
	}
	if merged != nil {
		delete(sc.tracked, merged.PairKey())
	}
	sc.recordGesture("waypoint_rejoin")
	sc.routes.RebuildAll()
	sc.updateMetricsLocked()
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return nil
}

// MoveNode tracks a node position during a node drag; emission is
// debounced.
func (sc *SyncController) MoveNode(nodeID string, pos model.Point) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.canvas.MoveNode(nodeID, pos); err != nil {
		return err
	}
	sc.routes.RebuildAll()
	sc.requestEmitLocked(false)
	return nil
}

// StopNodeDrag completes a node drag: the position stays tracked until
// the authority converges, and the snapshot emits immediately.
func (sc *SyncController) StopNodeDrag(nodeID string) error {
	sc.mu.Lock()

	if sc.canvas.Node(nodeID) == nil {
		sc.mu.Unlock()
		return ErrNodeNotFound
	}
	sc.recordGesture("node_drag_stop")
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return nil
}

// DeleteNode handles an external node-deletion notification. Only
// waypoint-kind nodes are reinterpreted as a rejoin; anything else is a
// plain cascade delete.
func (sc *SyncController) DeleteNode(nodeID string) error {
	node := sc.canvas.Node(nodeID)
	if node != nil && node.IsWaypoint() {
		return sc.RejoinWaypoint(nodeID)
	}

	sc.mu.Lock()

	if err := sc.canvas.DeleteNode(nodeID); err != nil {
		sc.mu.Unlock()
		return err
	}
	sc.routes.RebuildAll()
	sc.updateMetricsLocked()
	emit := sc.requestEmitLocked(true)
	sc.mu.Unlock()

	if emit != nil {
		emit()
	}
	return nil
}

// SelectEdge forwards edge selection to the canvas.
func (sc *SyncController) SelectEdge(edgeID string) error {
	return sc.canvas.SelectEdge(edgeID)
}

// HoverEdge forwards hover state to the canvas.
func (sc *SyncController) HoverEdge(edgeID string) {
	sc.canvas.HoverEdge(edgeID)
}

// Close cancels any open drag session and pending debounce timer,
// leaving no stale callback able to mutate the canvas.
func (sc *SyncController) Close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.closed = true
	sc.reshaper.Cancel()
	sc.debounce.Cancel()
}

//
// ---------- Emission ----------
//

// requestEmitLocked schedules an upward emission. Immediate emissions
// supersede any pending debounce so a single gesture never emits
// twice. For immediate emissions it returns the fan-out closure, which
// the caller must invoke after releasing sc.mu; debounced emissions
// return nil and fire from the timer callback.
//
// NOTE: caller must hold sc.mu.
func (sc *SyncController) requestEmitLocked(immediate bool) func() {
	if sc.closed {
		return nil
	}
	if immediate {
		sc.debounce.Cancel()
		return sc.prepareEmitLocked(EmitGesture)
	}
	sc.debounce.Trigger(func() {
		sc.mu.Lock()
		if sc.closed {
			sc.mu.Unlock()
			return
		}
		emit := sc.prepareEmitLocked(EmitDebounced)
		sc.mu.Unlock()
		emit()
	})
	return nil
}

// prepareEmitLocked snapshots the canvas and captures the subscriber
// list, returning the closure that notifies them. Subscribers run
// outside the lock to avoid deadlocks.
//
// NOTE: caller must hold sc.mu.
func (sc *SyncController) prepareEmitLocked(reason EmitReason) func() {
	snap := sc.canvas.Snapshot()
	subs := append([]EmitFunc(nil), sc.subs...)
	if sc.metrics != nil {
		sc.metrics.RecordEmission(string(reason))
	}
	return func() {
		for _, fn := range subs {
			if fn != nil {
				fn(snap, reason)
			}
		}
	}
}

// findUpstream resolves the node feeding a waypoint node within a
// snapshot, or "" when the chain is ambiguous.
func findUpstream(snap model.Snapshot, nodeID string) string {
	source := ""
	for i := range snap.Edges {
		if snap.Edges[i].Target == nodeID {
			if source != "" {
				return ""
			}
			source = snap.Edges[i].Source
		}
	}
	return source
}

// findDownstream resolves the node a waypoint node feeds into within a
// snapshot, or "" when the chain is ambiguous.
func findDownstream(snap model.Snapshot, nodeID string) string {
	target := ""
	for i := range snap.Edges {
		if snap.Edges[i].Source == nodeID {
			if target != "" {
				return ""
			}
			target = snap.Edges[i].Target
		}
	}
	return target
}

func (sc *SyncController) recordDecision(decision string) {
	if sc.metrics != nil {
		sc.metrics.RecordSnapshotDecision(decision)
	}
}

func (sc *SyncController) recordGesture(kind string) {
	if sc.metrics != nil {
		sc.metrics.RecordGesture(kind)
	}
}

func (sc *SyncController) updateMetricsLocked() {
	if sc.metrics == nil {
		return
	}
	nodes, edges, waypoints := sc.canvas.Counts()
	sc.metrics.SetCanvasCounts(nodes, edges, waypoints, len(sc.tracked))
}
