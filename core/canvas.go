package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/flowcanvas/model"
)

var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeBadInput = errors.New("invalid node")
	ErrEdgeExists   = errors.New("edge already exists")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrEdgeBadInput = errors.New("invalid edge")
	ErrEmptyEdgeID  = errors.New("empty edge ID")
	ErrEndpointMiss = errors.New("edge references unknown node")
)

// Canvas is the live node/edge store of one flow graph. It keeps the
// adjacency maps the topology editor needs, the selection/hover flags
// other panels read, and the locally-tracked node positions the sync
// controller consults when merging external snapshots.
//
// The canvas is concurrency-safe via an internal RWMutex; all access
// must go through these methods. The authoritative merge itself is the
// sync controller's job: nothing here decides whether an external
// snapshot should be applied.
type Canvas struct {
	mu sync.RWMutex

	nodes        map[string]*model.Node
	edges        map[string]*model.Edge
	edgesBySrc   map[string]map[string]*model.Edge
	edgesByTgt   map[string]map[string]*model.Edge
	trackedPos   map[string]model.Point
	selectedEdge string
	hoveredEdge  string
}

// NewCanvas creates an empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{
		nodes:      make(map[string]*model.Node),
		edges:      make(map[string]*model.Edge),
		edgesBySrc: make(map[string]map[string]*model.Edge),
		edgesByTgt: make(map[string]map[string]*model.Edge),
		trackedPos: make(map[string]model.Point),
	}
}

//
// ---------- Nodes ----------
//

func (c *Canvas) AddNode(n *model.Node) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w", ErrNodeBadInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %q", ErrNodeExists, n.ID)
	}
	c.nodes[n.ID] = n
	return nil
}

// Node returns a node by ID, or nil if not found.
func (c *Canvas) Node(id string) *model.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[id]
}

// Nodes returns all nodes, ordered by ID for stable iteration.
func (c *Canvas) Nodes() []*model.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*model.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MoveNode updates a node's position and records it as locally tracked,
// so external snapshots stop overriding it until the tracking is
// released (node drag-stop plus convergence).
func (c *Canvas) MoveNode(id string, pos model.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	n.Position = pos
	c.trackedPos[id] = pos
	return nil
}

// TrackedPosition reports the locally-tracked position for a node, if any.
func (c *Canvas) TrackedPosition(id string) (model.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.trackedPos[id]
	return pos, ok
}

// ReleaseTrackedPosition forgets the local position override for a node.
func (c *Canvas) ReleaseTrackedPosition(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.trackedPos, id)
}

// DeleteNode removes a node and every edge attached to it.
func (c *Canvas) DeleteNode(id string) error {
	if id == "" {
		return fmt.Errorf("%w", ErrNodeBadInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	c.deleteNodeLocked(id)
	return nil
}

//
// ---------- Edges ----------
//

// AddEdge inserts a new edge and updates the adjacency maps. Both
// endpoints must already exist as nodes.
func (c *Canvas) AddEdge(e *model.Edge) error {
	if e == nil {
		return fmt.Errorf("%w", ErrEdgeBadInput)
	}
	if e.ID == "" {
		return fmt.Errorf("%w", ErrEmptyEdgeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.edges[e.ID]; exists {
		return fmt.Errorf("%w: %q", ErrEdgeExists, e.ID)
	}
	if _, ok := c.nodes[e.Source]; !ok {
		return fmt.Errorf("%w: %q references %q", ErrEndpointMiss, e.ID, e.Source)
	}
	if _, ok := c.nodes[e.Target]; !ok {
		return fmt.Errorf("%w: %q references %q", ErrEndpointMiss, e.ID, e.Target)
	}

	c.edges[e.ID] = e
	c.attachEdgeLocked(e)
	return nil
}

// Edge returns a single edge by ID, or nil if missing.
func (c *Canvas) Edge(id string) *model.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.edges[id]
}

// Edges returns all edges, ordered by ID for stable iteration.
func (c *Canvas) Edges() []*model.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*model.Edge, 0, len(c.edges))
	for _, e := range c.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateEdgeWaypoints replaces an edge's waypoint sequence.
func (c *Canvas) UpdateEdgeWaypoints(id string, waypoints []model.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.edges[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, id)
	}
	e.Waypoints = append([]model.Point(nil), waypoints...)
	return nil
}

// DeleteEdge removes an edge by ID and cleans up adjacency state.
func (c *Canvas) DeleteEdge(id string) error {
	if id == "" {
		return fmt.Errorf("%w", ErrEmptyEdgeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.edges[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrEdgeNotFound, id)
	}
	c.detachEdgeLocked(e)
	delete(c.edges, id)
	return nil
}

// OutgoingEdges returns the edges whose source is the given node.
func (c *Canvas) OutgoingEdges(nodeID string) []*model.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return edgesFromIndex(c.edgesBySrc[nodeID])
}

// IncomingEdges returns the edges whose target is the given node.
func (c *Canvas) IncomingEdges(nodeID string) []*model.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return edgesFromIndex(c.edgesByTgt[nodeID])
}

//
// ---------- Selection and hover ----------
//

// SelectEdge marks the given edge as selected, clearing any previous
// selection. An empty ID clears the selection entirely.
func (c *Canvas) SelectEdge(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != "" {
		if _, ok := c.edges[id]; !ok {
			return fmt.Errorf("%w: %q", ErrEdgeNotFound, id)
		}
	}
	if prev, ok := c.edges[c.selectedEdge]; ok {
		prev.Selected = false
	}
	c.selectedEdge = id
	if e, ok := c.edges[id]; ok {
		e.Selected = true
	}
	return nil
}

// SelectedEdge returns the ID of the selected edge, or "".
func (c *Canvas) SelectedEdge() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedEdge
}

// HoverEdge records which edge the pointer is over. Unknown IDs clear
// the hover state rather than failing; hover is best-effort UI state.
func (c *Canvas) HoverEdge(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.edges[id]; !ok {
		c.hoveredEdge = ""
		return
	}
	c.hoveredEdge = id
}

// HoveredEdge returns the ID of the hovered edge, or "".
func (c *Canvas) HoveredEdge() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hoveredEdge
}

//
// ---------- Snapshot import/export ----------
//

// Snapshot exports a deep copy of the canvas contents, ordered by ID.
func (c *Canvas) Snapshot() model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := model.Snapshot{
		Nodes: make([]model.Node, 0, len(c.nodes)),
		Edges: make([]model.Edge, 0, len(c.edges)),
	}
	for _, n := range c.nodes {
		snap.Nodes = append(snap.Nodes, *n.Clone())
	}
	for _, e := range c.edges {
		snap.Edges = append(snap.Edges, *e.Clone())
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return snap
}

// Replace swaps the entire canvas contents for the given snapshot,
// deep-copying it. Tracked positions, selection, and hover survive when
// the referenced entities still exist.
func (c *Canvas) Replace(snap model.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[string]*model.Node, len(snap.Nodes))
	c.edges = make(map[string]*model.Edge, len(snap.Edges))
	c.edgesBySrc = make(map[string]map[string]*model.Edge)
	c.edgesByTgt = make(map[string]map[string]*model.Edge)

	for i := range snap.Nodes {
		n := snap.Nodes[i].Clone()
		c.nodes[n.ID] = n
	}
	for i := range snap.Edges {
		e := snap.Edges[i].Clone()
		if _, ok := c.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := c.nodes[e.Target]; !ok {
			continue
		}
		c.edges[e.ID] = e
		c.attachEdgeLocked(e)
	}

	for id := range c.trackedPos {
		if _, ok := c.nodes[id]; !ok {
			delete(c.trackedPos, id)
		}
	}
	if e, ok := c.edges[c.selectedEdge]; ok {
		e.Selected = true
	} else {
		c.selectedEdge = ""
	}
	if _, ok := c.edges[c.hoveredEdge]; !ok {
		c.hoveredEdge = ""
	}
}

// Clear removes all nodes, edges, adjacency, tracking, and UI state.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[string]*model.Node)
	c.edges = make(map[string]*model.Edge)
	c.edgesBySrc = make(map[string]map[string]*model.Edge)
	c.edgesByTgt = make(map[string]map[string]*model.Edge)
	c.trackedPos = make(map[string]model.Point)
	c.selectedEdge = ""
	c.hoveredEdge = ""
}

// Counts returns the number of nodes, edges, and waypoint-kind nodes.
func (c *Canvas) Counts() (nodes, edges, waypoints int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, n := range c.nodes {
		if n.IsWaypoint() {
			waypoints++
		}
	}
	return len(c.nodes), len(c.edges), waypoints
}

//
// ---------- Locked helpers ----------
//

// attachEdgeLocked updates the adjacency maps for a new edge.
//
// NOTE: caller must hold c.mu (write lock).
func (c *Canvas) attachEdgeLocked(e *model.Edge) {
	src, ok := c.edgesBySrc[e.Source]
	if !ok {
		src = make(map[string]*model.Edge)
		c.edgesBySrc[e.Source] = src
	}
	src[e.ID] = e

	tgt, ok := c.edgesByTgt[e.Target]
	if !ok {
		tgt = make(map[string]*model.Edge)
		c.edgesByTgt[e.Target] = tgt
	}
	tgt[e.ID] = e
}

// detachEdgeLocked removes an edge from the adjacency maps.
//
// NOTE: caller must hold c.mu (write lock).
func (c *Canvas) detachEdgeLocked(e *model.Edge) {
	if m, ok := c.edgesBySrc[e.Source]; ok {
		delete(m, e.ID)
		if len(m) == 0 {
			delete(c.edgesBySrc, e.Source)
		}
	}
	if m, ok := c.edgesByTgt[e.Target]; ok {
		delete(m, e.ID)
		if len(m) == 0 {
			delete(c.edgesByTgt, e.Target)
		}
	}
	if c.selectedEdge == e.ID {
		c.selectedEdge = ""
	}
	if c.hoveredEdge == e.ID {
		c.hoveredEdge = ""
	}
}

// deleteNodeLocked removes a node and cascades to attached edges.
// Caller must hold c.mu (write lock).
func (c *Canvas) deleteNodeLocked(id string) {
	for _, e := range c.edges {
		if e.Source == id || e.Target == id {
			c.detachEdgeLocked(e)
			delete(c.edges, e.ID)
		}
	}
	delete(c.trackedPos, id)
	delete(c.nodes, id)
}

func edgesFromIndex(m map[string]*model.Edge) []*model.Edge {
	if len(m) == 0 {
		return nil
	}
	out := make([]*model.Edge, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
