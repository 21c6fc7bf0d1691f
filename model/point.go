package model

// Point is a coordinate pair in flow space. Flow space uses the usual
// screen convention: x grows rightward, y grows downward.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport describes the current pan/zoom of the canvas and converts
// between screen coordinates and flow space. A zoom of 1 with zero pan
// makes the two spaces identical.
type Viewport struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"pan_x"`
	PanY float64 `json:"pan_y"`
}

// DefaultViewport returns the identity viewport.
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

// ToFlow converts a screen-space point into flow space.
func (v Viewport) ToFlow(screen Point) Point {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return Point{
		X: (screen.X - v.PanX) / zoom,
		Y: (screen.Y - v.PanY) / zoom,
	}
}

// FlowDelta converts the screen-space displacement from a to b into a
// flow-space displacement. Pan cancels out; only zoom matters, which is
// what keeps drag deltas resolution-independent.
func (v Viewport) FlowDelta(a, b Point) Point {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	return Point{
		X: (b.X - a.X) / zoom,
		Y: (b.Y - a.Y) / zoom,
	}
}
