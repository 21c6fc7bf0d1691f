// core/route_index.go
package core

import (
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/flowcanvas/model"
)

// EdgeRoute is the derived rendering state of one edge: its polyline
// and the drag handles it exposes.
type EdgeRoute struct {
	EdgeID  string
	Points  []model.Point
	Handles []Handle
}

// RouteIndex caches the polyline and handle set of every edge on a
// canvas, and answers hit-test queries for double-click gestures. The
// index is recomputed per edge after every mutation: the sync
// controller calls Rebuild after reshapes and topology edits, and
// RebuildAll after a snapshot merge.
//
// Edges with a missing endpoint position are indexed with an empty
// route rather than failing; a later snapshot push self-heals them.
type RouteIndex struct {
	canvas  *Canvas
	profile Profile

	mu     sync.RWMutex
	routes map[string]*EdgeRoute
}

// NewRouteIndex constructs an index over the given canvas.
func NewRouteIndex(canvas *Canvas, profile Profile) *RouteIndex {
	return &RouteIndex{
		canvas:  canvas,
		profile: profile,
		routes:  make(map[string]*EdgeRoute),
	}
}

// Rebuild recomputes the route and handles for a single edge. Unknown
// edges are dropped from the index.
func (ri *RouteIndex) Rebuild(edgeID string) {
	edge := ri.canvas.Edge(edgeID)

	ri.mu.Lock()
	defer ri.mu.Unlock()

	if edge == nil {
		delete(ri.routes, edgeID)
		return
	}
	ri.routes[edgeID] = ri.buildRoute(edge)
}

// RebuildAll recomputes every edge route from the current canvas state.
func (ri *RouteIndex) RebuildAll() {
	edges := ri.canvas.Edges()

	ri.mu.Lock()
	defer ri.mu.Unlock()

	ri.routes = make(map[string]*EdgeRoute, len(edges))
	for _, e := range edges {
		ri.routes[e.ID] = ri.buildRoute(e)
	}
}

// Route returns the cached polyline for an edge, or nil if unknown.
func (ri *RouteIndex) Route(edgeID string) []model.Point {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	if r, ok := ri.routes[edgeID]; ok {
		return r.Points
	}
	return nil
}

// Handles returns the cached drag handles for an edge.
func (ri *RouteIndex) Handles(edgeID string) []Handle {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	if r, ok := ri.routes[edgeID]; ok {
		return r.Handles
	}
	return nil
}

// HandleAt resolves which handle of an edge sits within maxDist of p.
func (ri *RouteIndex) HandleAt(edgeID string, p model.Point, maxDist float64) (Handle, bool) {
	for _, h := range ri.Handles(edgeID) {
		if Distance(h.At, p) <= maxDist {
			return h, true
		}
	}
	return Handle{}, false
}

// SegmentAt returns the index of the edge segment nearest to p.
func (ri *RouteIndex) SegmentAt(edgeID string, p model.Point) (int, error) {
	route := ri.Route(edgeID)
	seg, _ := NearestSegment(route, p)
	if seg < 0 {
		return 0, fmt.Errorf("%w: %q has no routable segments", ErrEdgeNotFound, edgeID)
	}
	return seg, nil
}

// EdgeAt finds the edge whose route passes closest to p, within
// maxDist. Used to resolve double-clicks on an edge body.
func (ri *RouteIndex) EdgeAt(p model.Point, maxDist float64) (string, int, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	bestEdge := ""
	bestSeg := -1
	bestDist := math.Inf(1)
	for id, r := range ri.routes {
		seg, d := NearestSegment(r.Points, p)
		if seg < 0 || d > maxDist {
			continue
		}
		if d < bestDist || (d == bestDist && id < bestEdge) {
			bestEdge = id
			bestSeg = seg
			bestDist = d
		}
	}
	if bestSeg < 0 {
		return "", 0, false
	}
	return bestEdge, bestSeg, true
}

// buildRoute derives one edge's polyline and handle set.
//
// NOTE: caller must hold ri.mu (write lock).
func (ri *RouteIndex) buildRoute(e *model.Edge) *EdgeRoute {
	src := ri.canvas.Node(e.Source)
	tgt := ri.canvas.Node(e.Target)
	if src == nil || tgt == nil {
		return &EdgeRoute{EdgeID: e.ID}
	}

	points := BuildRoute(src.Position, tgt.Position, e.Waypoints)
	return &EdgeRoute{
		EdgeID:  e.ID,
		Points:  points,
		Handles: SegmentHandles(points, ri.profile.HandleMinLength),
	}
}
