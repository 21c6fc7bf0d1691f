package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/flowcanvas/model"
)

var (
	ErrDragActive   = errors.New("drag session already active")
	ErrNoDrag       = errors.New("no drag session active")
	ErrSegmentRange = errors.New("segment index out of range")
)

// dragSession is the transient state between handle press and release.
type dragSession struct {
	edgeID      string
	segment     int
	orientation Orientation

	// initial is the waypoint sequence captured at press (after any
	// implicit bend materialization). Every Move recomputes from it
	// using the absolute pointer delta, which keeps the reshaper
	// re-entrant between pointer events.
	initial []model.Point

	// restore is the waypoint sequence as it was before Begin touched
	// the edge; Cancel rolls back to it.
	restore []model.Point

	// anchor is the screen-space pointer position at press; viewport
	// converts subsequent screen deltas into flow space.
	anchor   model.Point
	viewport model.Viewport
}

// Reshaper is the interactive drag state machine editing one edge's
// waypoint sequence: Idle, Begin moves it to Dragging, End or Cancel
// back to Idle. While a session is open the dragged edge's waypoints
// are written only through the reshaper.
type Reshaper struct {
	canvas  *Canvas
	profile Profile

	session *dragSession
}

// NewReshaper constructs a reshaper bound to a canvas.
func NewReshaper(canvas *Canvas, profile Profile) *Reshaper {
	return &Reshaper{canvas: canvas, profile: profile}
}

// Active reports whether a drag session is open.
func (r *Reshaper) Active() bool { return r.session != nil }

// EdgeID returns the edge being dragged, or "" when idle.
func (r *Reshaper) EdgeID() string {
	if r.session == nil {
		return ""
	}
	return r.session.edgeID
}

// Begin opens a drag session on one segment of an edge. It captures the
// segment's boundary points, classifies the drag orientation, snapshots
// the waypoint list, and anchors the screen-to-flow conversion at the
// press position.
//
// Dragging the direct source-to-target segment of an unrouted edge
// materializes a bend: two waypoints are inserted at the segment's
// endpoint positions so the middle segment exists to be dragged. The
// simplifier removes them again if the drag ends where it started.
func (r *Reshaper) Begin(edgeID string, segment int, pointer model.Point, vp model.Viewport) error {
	if r.session != nil {
		return fmt.Errorf("%w: edge %q", ErrDragActive, r.session.edgeID)
	}

	edge := r.canvas.Edge(edgeID)
	if edge == nil {
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, edgeID)
	}
	src := r.canvas.Node(edge.Source)
	tgt := r.canvas.Node(edge.Target)
	if src == nil || tgt == nil {
		return fmt.Errorf("%w: %q", ErrEndpointMiss, edgeID)
	}

	restore := append([]model.Point(nil), edge.Waypoints...)
	waypoints := append([]model.Point(nil), edge.Waypoints...)

	var orientation Orientation
	if len(waypoints) == 0 {
		if segment != 0 {
			return fmt.Errorf("%w: %d on unrouted edge %q", ErrSegmentRange, segment, edgeID)
		}
		orientation = ClassifySegment(src.Position, tgt.Position)
		waypoints = []model.Point{src.Position, tgt.Position}
		segment = 1
		if err := r.canvas.UpdateEdgeWaypoints(edgeID, waypoints); err != nil {
			return err
		}
	} else {
		route := BuildRoute(src.Position, tgt.Position, waypoints)
		if segment < 0 || segment >= len(route)-1 {
			return fmt.Errorf("%w: %d of %d segments on %q", ErrSegmentRange, segment, len(route)-1, edgeID)
		}
		orientation = dragOrientation(route, segment, r.profile.CollinearTolerance)
	}

	r.session = &dragSession{
		edgeID:      edgeID,
		segment:     segment,
		orientation: orientation,
		initial:     waypoints,
		restore:     restore,
		anchor:      pointer,
		viewport:    vp,
	}
	return nil
}

// dragOrientation classifies the drag axis of one route segment. An
// axis-aligned segment is classified by its own dominant axis. Routes
// can carry diagonal geometry (hand-authored fixtures, documents from
// older layouts); an orthogonal router alternates axes segment by
// segment, so a diagonal segment inherits the alternation implied by
// the first segment's dominant axis.
func dragOrientation(route []model.Point, segment int, tol float64) Orientation {
	a, b := route[segment], route[segment+1]
	dx := b.X - a.X
	dy := b.Y - a.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx <= tol || dy <= tol {
		return ClassifySegment(a, b)
	}

	base := ClassifySegment(route[0], route[1])
	if segment%2 == 0 {
		return base
	}
	if base == Horizontal {
		return Vertical
	}
	return Horizontal
}

// Move applies the pointer's flow-space displacement from the anchor to
// the waypoints bounding the dragged segment. Horizontal segments take
// the vertical component, vertical segments the horizontal one; indices
// outside the waypoint range are endpoint-fixed and skipped. A shared
// waypoint bounds two segments, so moving it moves both together and
// the route stays axis-aligned at every frame.
func (r *Reshaper) Move(pointer model.Point) error {
	s := r.session
	if s == nil {
		return fmt.Errorf("%w", ErrNoDrag)
	}

	delta := s.viewport.FlowDelta(s.anchor, pointer)
	waypoints := append([]model.Point(nil), s.initial...)

	for _, idx := range []int{s.segment - 1, s.segment} {
		if idx < 0 || idx >= len(waypoints) {
			continue
		}
		if s.orientation == Horizontal {
			waypoints[idx].Y = s.initial[idx].Y + delta.Y
		} else {
			waypoints[idx].X = s.initial[idx].X + delta.X
		}
	}

	return r.canvas.UpdateEdgeWaypoints(s.edgeID, waypoints)
}

// End closes the drag session, simplifies the result, and returns the
// final waypoint sequence. The session is cleared unconditionally, even
// when a lookup fails mid-way; a stuck Dragging state is worse than a
// lost cleanup.
func (r *Reshaper) End() ([]model.Point, error) {
	s := r.session
	r.session = nil
	if s == nil {
		return nil, fmt.Errorf("%w", ErrNoDrag)
	}

	edge := r.canvas.Edge(s.edgeID)
	if edge == nil {
		return nil, fmt.Errorf("%w: %q", ErrEdgeNotFound, s.edgeID)
	}
	src := r.canvas.Node(edge.Source)
	tgt := r.canvas.Node(edge.Target)
	if src == nil || tgt == nil {
		return nil, fmt.Errorf("%w: %q", ErrEndpointMiss, s.edgeID)
	}

	route := SimplifyRoute(BuildRoute(src.Position, tgt.Position, edge.Waypoints), r.profile)
	waypoints := route[1 : len(route)-1]
	if err := r.canvas.UpdateEdgeWaypoints(s.edgeID, waypoints); err != nil {
		return nil, err
	}
	return append([]model.Point(nil), waypoints...), nil
}

// Cancel restores the waypoint sequence captured at press and clears
// the session. Navigation away or a full external replacement calls
// this so no stale session survives.
func (r *Reshaper) Cancel() {
	s := r.session
	r.session = nil
	if s == nil {
		return
	}
	// Best effort: the edge may already be gone.
	_ = r.canvas.UpdateEdgeWaypoints(s.edgeID, s.restore)
}
