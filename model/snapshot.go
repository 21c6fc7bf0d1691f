package model

// Snapshot is the complete (nodes, edges) state of one flow graph, as
// pushed by the external authority or emitted back up for persistence.
// A snapshot is treated as an immutable value: the sync controller
// deep-copies on ingest and on emission, never mutating one in place.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Nodes: make([]Node, len(s.Nodes)),
		Edges: make([]Edge, len(s.Edges)),
	}
	for i := range s.Nodes {
		out.Nodes[i] = *s.Nodes[i].Clone()
	}
	for i := range s.Edges {
		out.Edges[i] = *s.Edges[i].Clone()
	}
	return out
}

// Node returns the node with the given ID, or nil if missing.
func (s Snapshot) Node(id string) *Node {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// Edge returns the edge with the given ID, or nil if missing.
func (s Snapshot) Edge(id string) *Edge {
	for i := range s.Edges {
		if s.Edges[i].ID == id {
			return &s.Edges[i]
		}
	}
	return nil
}
