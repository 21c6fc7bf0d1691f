package timectrl

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid repeated triggers into a single delayed
// callback. Each Trigger resets the window: the previously pending
// callback is superseded, never run twice. Flush runs the callback
// immediately and cancels the pending window; Cancel drops it without
// running. All three are safe to call from timer callbacks.
type Debouncer struct {
	clock  Clock
	window time.Duration

	mu    sync.Mutex
	timer Timer
	gen   uint64
	fn    func()
}

// NewDebouncer constructs a debouncer with the given coalescing window.
// A nil clock defaults to the real clock.
func NewDebouncer(clock Clock, window time.Duration) *Debouncer {
	if clock == nil {
		clock = Real()
	}
	return &Debouncer{clock: clock, window: window}
}

// Trigger schedules fn to run once the window elapses with no further
// triggers. A later Trigger replaces the pending fn entirely.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.fn = fn
	d.timer = d.clock.AfterFunc(d.window, func() {
		d.fire(gen)
	})
}

// Flush runs the pending callback now, if any, and clears the window.
// It reports whether a callback was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	fn := d.fn
	d.timer = nil
	d.fn = nil
	d.gen++
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Cancel drops any pending callback without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.fn = nil
	d.gen++
}

// Pending reports whether a callback is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// fire runs the scheduled callback if the generation still matches,
// i.e. no Trigger/Flush/Cancel superseded it since it was armed.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	fn := d.fn
	d.timer = nil
	d.fn = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}
