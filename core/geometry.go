package core

import (
	"math"

	"github.com/signalsfoundry/flowcanvas/model"
)

// Orientation classifies a route segment by its dominant axis.
type Orientation int

const (
	// Horizontal segments span more x than y; dragging one moves it
	// vertically.
	Horizontal Orientation = iota
	// Vertical segments span more y than x; dragging one moves it
	// horizontally.
	Vertical
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// Distance returns the Euclidean distance between two flow points.
func Distance(a, b model.Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b model.Point) model.Point {
	return model.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// ClassifySegment returns the orientation of the segment from a to b.
// Ties go horizontal.
func ClassifySegment(a, b model.Point) Orientation {
	if math.Abs(b.Y-a.Y) > math.Abs(b.X-a.X) {
		return Vertical
	}
	return Horizontal
}

// BuildRoute constructs the polyline for an edge: source, each waypoint
// in order, target. A nil waypoint list is treated as empty, yielding
// the direct two-point segment. Pure; the input slice is not retained.
func BuildRoute(source, target model.Point, waypoints []model.Point) []model.Point {
	route := make([]model.Point, 0, len(waypoints)+2)
	route = append(route, source)
	route = append(route, waypoints...)
	route = append(route, target)
	return route
}

// Handle is a draggable midpoint descriptor for one route segment.
// Segment 0 is the source-adjacent segment, increasing toward the
// target; the reshaper uses this index to find the waypoints bounding
// the dragged segment.
type Handle struct {
	Segment int
	At      model.Point
}

// SegmentHandles derives the drag handles for a route: one per
// consecutive pair of points whose length is at least minLen.
func SegmentHandles(route []model.Point, minLen float64) []Handle {
	if len(route) < 2 {
		return nil
	}
	handles := make([]Handle, 0, len(route)-1)
	for i := 0; i < len(route)-1; i++ {
		if Distance(route[i], route[i+1]) < minLen {
			continue
		}
		handles = append(handles, Handle{
			Segment: i,
			At:      Midpoint(route[i], route[i+1]),
		})
	}
	return handles
}

// SimplifyRoute removes redundant interior points from a route: points
// within the coincidence tolerance of either neighbour, and points
// axis-collinear with both neighbours within the collinear tolerance.
// The first and last points are fixed anchors and never dropped.
// Running the result through SimplifyRoute again yields the same route.
func SimplifyRoute(route []model.Point, p Profile) []model.Point {
	// Dropping a point can make its survivors newly coincident or
	// collinear, so passes repeat until nothing is removed.
	out := append([]model.Point(nil), route...)
	for {
		next := simplifyPass(out, p)
		if len(next) == len(out) {
			return next
		}
		out = next
	}
}

func simplifyPass(route []model.Point, p Profile) []model.Point {
	if len(route) <= 2 {
		return append([]model.Point(nil), route...)
	}

	out := make([]model.Point, 0, len(route))
	out = append(out, route[0])
	for i := 1; i < len(route)-1; i++ {
		prev := out[len(out)-1]
		cur := route[i]
		next := route[i+1]

		if Distance(cur, prev) < p.CoincidenceTolerance || Distance(cur, next) < p.CoincidenceTolerance {
			continue
		}
		if collinearOnAxis(prev, cur, next, p.CollinearTolerance) {
			continue
		}
		out = append(out, cur)
	}
	out = append(out, route[len(route)-1])
	return out
}

// collinearOnAxis reports whether the three points lie on a shared
// horizontal or vertical line within tol.
func collinearOnAxis(a, b, c model.Point, tol float64) bool {
	if math.Abs(a.Y-b.Y) <= tol && math.Abs(c.Y-b.Y) <= tol {
		return true
	}
	if math.Abs(a.X-b.X) <= tol && math.Abs(c.X-b.X) <= tol {
		return true
	}
	return false
}

// DistanceToSegment returns the distance from p to the segment a-b.
func DistanceToSegment(p, a, b model.Point) float64 {
	vx := b.X - a.X
	vy := b.Y - a.Y
	lenSq := vx*vx + vy*vy
	if lenSq == 0 {
		return Distance(p, a)
	}

	// Project p onto the segment and clamp to its extent.
	t := ((p.X-a.X)*vx + (p.Y-a.Y)*vy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := model.Point{X: a.X + vx*t, Y: a.Y + vy*t}
	return Distance(p, closest)
}

// NearestSegment returns the index of the route segment closest to p
// and the distance to it. Returns -1 for routes with fewer than two
// points.
func NearestSegment(route []model.Point, p model.Point) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i := 0; i < len(route)-1; i++ {
		if d := DistanceToSegment(p, route[i], route[i+1]); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}
