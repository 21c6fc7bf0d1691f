package model

import "encoding/json"

// Edge is a directed connection between two nodes, optionally routed
// through an ordered sequence of waypoints.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`

	// SourceHandle / TargetHandle name the attachment points on each
	// endpoint. Empty means the default forward handle.
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`

	// Waypoints are the edge-owned routing points, ordered from the
	// source toward the target. Empty means the direct path.
	Waypoints []Point `json:"waypoints,omitempty"`

	// Condition is the opaque edge-condition payload owned by the
	// expression subsystem. Stored and forwarded unchanged.
	Condition json.RawMessage `json:"condition,omitempty"`

	// Selected is controller-owned rendering state, never taken from
	// an external snapshot.
	Selected bool `json:"-"`
}

// PairKey returns the identity of the logical source→target pair. Split
// tracking and snapshot arbitration key on this rather than the edge ID,
// because a locally split edge and the authority's original edge carry
// different IDs for the same logical connection.
func (e *Edge) PairKey() string {
	if e == nil {
		return ""
	}
	return PairKey(e.Source, e.Target)
}

// PairKey builds the logical-pair key for a source and target node ID.
func PairKey(source, target string) string {
	return source + "\x00" + target
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	out := *e
	if e.Waypoints != nil {
		out.Waypoints = append([]Point(nil), e.Waypoints...)
	}
	if e.Condition != nil {
		out.Condition = append(json.RawMessage(nil), e.Condition...)
	}
	return &out
}
