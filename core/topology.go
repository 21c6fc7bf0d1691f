// core/topology.go
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/model"
)

// Attachment handle names. A routed edge whose waypoint sits strictly
// below an endpoint attaches through the return handle, so back-routed
// edges read differently from forward-flowing ones. A waypoint exactly
// level with the endpoint attaches forward.
const (
	HandleForward = ""
	HandleReturn  = "return"
)

// syntheticID derives a fresh identity from a base ID plus a uniqueness
// token, so rapid repeated splits of the same edge never collide.
func syntheticID(base string) string {
	token := strings.SplitN(uuid.New().String(), "-", 2)[0]
	return base + "-" + token
}

// InsertWaypoint adds a routing point to an edge-owned waypoint
// sequence at the position implied by projecting the click point onto
// the edge's polyline. It returns the insertion index.
func InsertWaypoint(c *Canvas, edgeID string, at model.Point) (int, error) {
	edge := c.Edge(edgeID)
	if edge == nil {
		return 0, fmt.Errorf("%w: %q", ErrEdgeNotFound, edgeID)
	}
	src := c.Node(edge.Source)
	tgt := c.Node(edge.Target)
	if src == nil || tgt == nil {
		return 0, fmt.Errorf("%w: %q", ErrEndpointMiss, edgeID)
	}

	route := BuildRoute(src.Position, tgt.Position, edge.Waypoints)
	seg, _ := NearestSegment(route, at)
	if seg < 0 {
		seg = 0
	}

	// Segment i runs from route[i] to route[i+1]; a point on it lands
	// at waypoint index i.
	waypoints := make([]model.Point, 0, len(edge.Waypoints)+1)
	waypoints = append(waypoints, edge.Waypoints[:seg]...)
	waypoints = append(waypoints, at)
	waypoints = append(waypoints, edge.Waypoints[seg:]...)

	if err := c.UpdateEdgeWaypoints(edgeID, waypoints); err != nil {
		return 0, err
	}
	return seg, nil
}

// RemoveWaypointAt deletes one point from an edge-owned waypoint
// sequence.
func RemoveWaypointAt(c *Canvas, edgeID string, index int) error {
	edge := c.Edge(edgeID)
	if edge == nil {
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, edgeID)
	}
	if index < 0 || index >= len(edge.Waypoints) {
		return fmt.Errorf("%w: waypoint %d of %d on %q", ErrSegmentRange, index, len(edge.Waypoints), edgeID)
	}

	waypoints := make([]model.Point, 0, len(edge.Waypoints)-1)
	waypoints = append(waypoints, edge.Waypoints[:index]...)
	waypoints = append(waypoints, edge.Waypoints[index+1:]...)
	return c.UpdateEdgeWaypoints(edgeID, waypoints)
}

// SplitEdge realizes a waypoint in the node-based representation: a
// lightweight waypoint node replaces the edge with a source-to-waypoint
// and a waypoint-to-target pair. The incoming half carries the original
// condition payload. Returns the new waypoint node's ID.
func SplitEdge(c *Canvas, edgeID string, at model.Point) (string, error) {
	edge := c.Edge(edgeID)
	if edge == nil {
		return "", fmt.Errorf("%w: %q", ErrEdgeNotFound, edgeID)
	}
	src := c.Node(edge.Source)
	tgt := c.Node(edge.Target)
	if src == nil || tgt == nil {
		return "", fmt.Errorf("%w: %q", ErrEndpointMiss, edgeID)
	}

	wp := &model.Node{
		ID:       syntheticID("wp-" + edge.Source + "-" + edge.Target),
		Kind:     model.KindWaypoint,
		Position: at,
	}
	if err := c.AddNode(wp); err != nil {
		return "", err
	}

	incoming := &model.Edge{
		ID:           syntheticID(edge.ID),
		Source:       edge.Source,
		Target:       wp.ID,
		SourceHandle: handleFor(at, src.Position),
		Condition:    edge.Condition,
	}
	outgoing := &model.Edge{
		ID:           syntheticID(edge.ID),
		Source:       wp.ID,
		Target:       edge.Target,
		TargetHandle: handleFor(at, tgt.Position),
	}

	if err := c.DeleteEdge(edge.ID); err != nil {
		_ = c.DeleteNode(wp.ID)
		return "", err
	}
	if err := c.AddEdge(incoming); err != nil {
		_ = c.DeleteNode(wp.ID)
		return "", err
	}
	if err := c.AddEdge(outgoing); err != nil {
		_ = c.DeleteEdge(incoming.ID)
		_ = c.DeleteNode(wp.ID)
		return "", err
	}
	return wp.ID, nil
}

// handleFor picks the attachment handle for a waypoint relative to an
// endpoint: strictly below (greater y) routes back through the return
// handle, ties go forward.
func handleFor(at, endpoint model.Point) string {
	if at.Y > endpoint.Y {
		return HandleReturn
	}
	return HandleForward
}

// RejoinWaypoint removes a waypoint node by merging its one incoming
// and one outgoing edge back into a single edge carrying the incoming
// edge's condition payload. It returns the synthesized edge.
//
// A waypoint with only one attached edge is malformed; the attached
// edges are removed and no replacement is fabricated, leaving the graph
// disconnected rather than inventing an unknown far endpoint.
func RejoinWaypoint(c *Canvas, nodeID string, log logging.Logger) (*model.Edge, error) {
	if log == nil {
		log = logging.Noop()
	}

	node := c.Node(nodeID)
	if node == nil {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}
	if !node.IsWaypoint() {
		return nil, fmt.Errorf("%w: %q is kind %q, not a waypoint", ErrNodeBadInput, nodeID, node.Kind)
	}

	incoming := c.IncomingEdges(nodeID)
	outgoing := c.OutgoingEdges(nodeID)

	if len(incoming) != 1 || len(outgoing) != 1 {
		log.Warn(context.Background(), "waypoint with inconsistent topology, removing without rejoin",
			logging.String("node_id", nodeID),
			logging.Int("incoming", len(incoming)),
			logging.Int("outgoing", len(outgoing)),
		)
		if err := c.DeleteNode(nodeID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	in, out := incoming[0], outgoing[0]
	merged := &model.Edge{
		ID:           syntheticID(in.Source + "-" + out.Target),
		Source:       in.Source,
		Target:       out.Target,
		SourceHandle: in.SourceHandle,
		TargetHandle: out.TargetHandle,
		Condition:    in.Condition,
	}

	// DeleteNode cascades to both attached edges.
	if err := c.DeleteNode(nodeID); err != nil {
		return nil, err
	}
	if err := c.AddEdge(merged); err != nil {
		return nil, err
	}
	return merged, nil
}
