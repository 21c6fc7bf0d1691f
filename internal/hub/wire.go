package hub

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/signalsfoundry/flowcanvas/model"
)

// Message types exchanged over the websocket.
const (
	MessageSnapshot = "snapshot" // authority -> engine
	MessageGesture  = "gesture"  // client -> engine
	MessageEmit     = "emit"     // engine -> authority/clients
	MessageError    = "error"
)

// Gesture kinds accepted inside a MessageGesture payload.
const (
	GestureDragBegin      = "drag_begin"
	GestureDragMove       = "drag_move"
	GestureDragEnd        = "drag_end"
	GestureDragCancel     = "drag_cancel"
	GestureWaypointInsert = "waypoint_insert"
	GestureWaypointRemove = "waypoint_remove"
	GestureEdgeSplit      = "edge_split"
	GestureWaypointRejoin = "waypoint_rejoin"
	GestureNodeMove       = "node_move"
	GestureNodeStop       = "node_stop"
	GestureNodeDelete     = "node_delete"
	GestureSelectEdge     = "select_edge"
	GestureHoverEdge      = "hover_edge"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	Type     string          `json:"type"`
	Document string          `json:"document,omitempty"`
	Revision int64           `json:"revision,omitempty"`
	Snapshot *SnapshotWire   `json:"snapshot,omitempty"`
	Gesture  *GestureWire    `json:"gesture,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// GestureWire carries one interactive event from the editor surface.
type GestureWire struct {
	Kind     string          `json:"kind"`
	Edge     string          `json:"edge,omitempty"`
	Node     string          `json:"node,omitempty"`
	Segment  int             `json:"segment,omitempty"`
	Index    int             `json:"index,omitempty"`
	Pointer  *model.Point    `json:"pointer,omitempty"`
	At       *model.Point    `json:"at,omitempty"`
	Viewport *model.Viewport `json:"viewport,omitempty"`
}

// ServerMessage is one outbound websocket frame.
type ServerMessage struct {
	Type     string        `json:"type"`
	Document string        `json:"document,omitempty"`
	Revision int64         `json:"revision,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Snapshot *SnapshotWire `json:"snapshot,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// SnapshotWire is the document form of a snapshot. Waypoints may be
// carried edge-owned or as waypoint-kind nodes; CollapseWaypointNodes
// normalizes to the edge-owned form on ingest.
type SnapshotWire struct {
	Nodes []NodeWire `json:"nodes"`
	Edges []EdgeWire `json:"edges"`
}

type NodeWire struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind,omitempty"`
	Position model.Point     `json:"position"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type EdgeWire struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Target       string          `json:"target"`
	SourceHandle string          `json:"sourceHandle,omitempty"`
	TargetHandle string          `json:"targetHandle,omitempty"`
	Waypoints    []model.Point   `json:"waypoints,omitempty"`
	Condition    json.RawMessage `json:"condition,omitempty"`
}

// ToModel converts a wire snapshot into the internal model.
func (sw *SnapshotWire) ToModel() model.Snapshot {
	if sw == nil {
		return model.Snapshot{}
	}
	snap := model.Snapshot{
		Nodes: make([]model.Node, 0, len(sw.Nodes)),
		Edges: make([]model.Edge, 0, len(sw.Edges)),
	}
	for _, n := range sw.Nodes {
		snap.Nodes = append(snap.Nodes, model.Node{
			ID:       n.ID,
			Kind:     n.Kind,
			Position: n.Position,
			Payload:  append(json.RawMessage(nil), n.Payload...),
		})
	}
	for _, e := range sw.Edges {
		snap.Edges = append(snap.Edges, model.Edge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Waypoints:    append([]model.Point(nil), e.Waypoints...),
			Condition:    append(json.RawMessage(nil), e.Condition...),
		})
	}
	return snap
}

// FromModel converts an internal snapshot into the wire form.
func FromModel(snap model.Snapshot) *SnapshotWire {
	sw := &SnapshotWire{
		Nodes: make([]NodeWire, 0, len(snap.Nodes)),
		Edges: make([]EdgeWire, 0, len(snap.Edges)),
	}
	for _, n := range snap.Nodes {
		sw.Nodes = append(sw.Nodes, NodeWire{
			ID:       n.ID,
			Kind:     n.Kind,
			Position: n.Position,
			Payload:  append(json.RawMessage(nil), n.Payload...),
		})
	}
	for _, e := range snap.Edges {
		sw.Edges = append(sw.Edges, EdgeWire{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Waypoints:    append([]model.Point(nil), e.Waypoints...),
			Condition:    append(json.RawMessage(nil), e.Condition...),
		})
	}
	return sw
}

//
// ---------- waypoint-node document adapter ----------
//

// CollapseWaypointNodes folds node-based waypoint chains (A -> W1 ->
// ... -> Wn -> B, with every Wi of waypoint kind and exactly one edge
// in and one out) into a single edge-owned waypoint sequence. Documents
// that persist the node-based format normalize to one internal
// representation this way. Waypoint nodes that do not form a clean
// chain are left untouched.
func CollapseWaypointNodes(snap model.Snapshot) model.Snapshot {
	incoming := make(map[string][]int)
	outgoing := make(map[string][]int)
	for i, e := range snap.Edges {
		incoming[e.Target] = append(incoming[e.Target], i)
		outgoing[e.Source] = append(outgoing[e.Source], i)
	}

	nodeByID := make(map[string]*model.Node, len(snap.Nodes))
	for i := range snap.Nodes {
		nodeByID[snap.Nodes[i].ID] = &snap.Nodes[i]
	}

	collapsible := func(id string) bool {
		n := nodeByID[id]
		return n != nil && n.IsWaypoint() &&
			len(incoming[id]) == 1 && len(outgoing[id]) == 1
	}

	consumedEdges := make(map[int]bool)
	consumedNodes := make(map[string]bool)
	var merged []model.Edge

	for i, e := range snap.Edges {
		if consumedEdges[i] {
			continue
		}
		// Chains start at an edge whose source is not itself part of a
		// collapsible chain.
		if collapsible(e.Source) || !collapsible(e.Target) {
			continue
		}

		waypoints := []model.Point{}
		chainEdges := []int{i}
		cur := e.Target
		broken := false
		for collapsible(cur) {
			waypoints = append(waypoints, nodeByID[cur].Position)
			next := snap.Edges[outgoing[cur][0]]
			chainEdges = append(chainEdges, outgoing[cur][0])
			if next.Target == cur {
				broken = true
				break
			}
			cur = next.Target
		}
		if broken || collapsible(cur) {
			continue
		}

		last := snap.Edges[chainEdges[len(chainEdges)-1]]
		for _, idx := range chainEdges {
			consumedEdges[idx] = true
		}
		for _, wp := range chainEdges[1:] {
			consumedNodes[snap.Edges[wp].Source] = true
		}
		merged = append(merged, model.Edge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       last.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: last.TargetHandle,
			Waypoints:    waypoints,
			Condition:    append(json.RawMessage(nil), e.Condition...),
		})
	}

	out := model.Snapshot{}
	for _, n := range snap.Nodes {
		if consumedNodes[n.ID] {
			continue
		}
		out.Nodes = append(out.Nodes, *n.Clone())
	}
	for i, e := range snap.Edges {
		if consumedEdges[i] {
			continue
		}
		out.Edges = append(out.Edges, *e.Clone())
	}
	out.Edges = append(out.Edges, merged...)
	return out
}

// ExpandWaypointNodes is the inverse document transform: every
// edge-owned waypoint becomes a waypoint-kind node with chain edges,
// for authorities that persist the node-based format.
func ExpandWaypointNodes(snap model.Snapshot) model.Snapshot {
	out := model.Snapshot{}
	for _, n := range snap.Nodes {
		out.Nodes = append(out.Nodes, *n.Clone())
	}
	for _, e := range snap.Edges {
		if len(e.Waypoints) == 0 {
			out.Edges = append(out.Edges, *e.Clone())
			continue
		}

		prev := e.Source
		prevHandle := e.SourceHandle
		cond := append(json.RawMessage(nil), e.Condition...)
		for i, wp := range e.Waypoints {
			wpID := e.ID + "-wp-" + uuid.NewString()[:8]
			out.Nodes = append(out.Nodes, model.Node{
				ID:       wpID,
				Kind:     model.KindWaypoint,
				Position: wp,
			})
			seg := model.Edge{
				ID:           e.ID + "-seg-" + uuid.NewString()[:8],
				Source:       prev,
				Target:       wpID,
				SourceHandle: prevHandle,
			}
			if i == 0 {
				seg.ID = e.ID
				seg.Condition = cond
			}
			out.Edges = append(out.Edges, seg)
			prev = wpID
			prevHandle = ""
		}
		out.Edges = append(out.Edges, model.Edge{
			ID:           e.ID + "-seg-" + uuid.NewString()[:8],
			Source:       prev,
			Target:       e.Target,
			TargetHandle: e.TargetHandle,
		})
	}
	return out
}
