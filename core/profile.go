package core

import (
	"fmt"
	"time"
)

// Default routing thresholds, in flow-space units.
const (
	// DefaultHandleMinLength is the minimum segment length that gets a
	// drag handle. Shorter segments cannot host one without clutter and
	// accidental mis-grabs.
	DefaultHandleMinLength = 30.0

	// DefaultCoincidenceTolerance is the distance under which two
	// neighbouring route points are considered the same point.
	DefaultCoincidenceTolerance = 5.0

	// DefaultCollinearTolerance is the axis deviation under which three
	// neighbouring route points count as collinear.
	DefaultCollinearTolerance = 2.0
)

// Default synchronization windows.
const (
	DefaultDebounceWindow = time.Second
	DefaultGraceWindow    = 500 * time.Millisecond
)

// Profile bundles the tunable thresholds of the routing engine. The
// zero value is not usable; start from DefaultProfile.
type Profile struct {
	// HandleMinLength is the minimum segment length hosting a handle.
	HandleMinLength float64 `json:"handle_min_length"`

	// CoincidenceTolerance drops route points this close to a neighbour.
	CoincidenceTolerance float64 `json:"coincidence_tolerance"`

	// CollinearTolerance drops route points axis-collinear with both
	// neighbours within this deviation.
	CollinearTolerance float64 `json:"collinear_tolerance"`

	// DebounceWindow coalesces continuous changes into one emission.
	DebounceWindow time.Duration `json:"debounce_window"`

	// GraceWindow keeps local edge state authoritative for this long
	// after a drag ends, so a stale external push cannot undo it.
	GraceWindow time.Duration `json:"grace_window"`
}

// DefaultProfile returns the stock thresholds.
func DefaultProfile() Profile {
	return Profile{
		HandleMinLength:      DefaultHandleMinLength,
		CoincidenceTolerance: DefaultCoincidenceTolerance,
		CollinearTolerance:   DefaultCollinearTolerance,
		DebounceWindow:       DefaultDebounceWindow,
		GraceWindow:          DefaultGraceWindow,
	}
}

// Validate checks the profile for values the engine cannot work with.
func (p Profile) Validate() error {
	if p.HandleMinLength < 0 {
		return fmt.Errorf("profile: handle min length %v is negative", p.HandleMinLength)
	}
	if p.CoincidenceTolerance < 0 {
		return fmt.Errorf("profile: coincidence tolerance %v is negative", p.CoincidenceTolerance)
	}
	if p.CollinearTolerance < 0 {
		return fmt.Errorf("profile: collinear tolerance %v is negative", p.CollinearTolerance)
	}
	if p.DebounceWindow <= 0 {
		return fmt.Errorf("profile: debounce window %v must be positive", p.DebounceWindow)
	}
	if p.GraceWindow < 0 {
		return fmt.Errorf("profile: grace window %v is negative", p.GraceWindow)
	}
	return nil
}
