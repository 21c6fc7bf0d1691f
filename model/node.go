package model

import "encoding/json"

// KindWaypoint marks a lightweight routing node used by flow documents
// that persist splits in the node-based format. The canvas collapses
// chains through these nodes into edge-owned waypoints on ingest.
const KindWaypoint = "waypoint"

// Node is a flow-graph node as rendered on the canvas.
type Node struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Position Point  `json:"position"`

	// Payload is the node's free-form configuration, owned by the
	// property-editing subsystem. Stored and forwarded unchanged.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Selected is controller-owned rendering state. It is never taken
	// from an external snapshot.
	Selected bool `json:"-"`
}

// IsWaypoint reports whether the node is a routing waypoint.
func (n *Node) IsWaypoint() bool {
	return n != nil && n.Kind == KindWaypoint
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Payload != nil {
		out.Payload = append(json.RawMessage(nil), n.Payload...)
	}
	return &out
}
