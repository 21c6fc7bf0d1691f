package timectrl

import (
	"sort"
	"sync"
	"time"
)

// Clock is an interface for accessing time and arming timers. Components
// that debounce or window their behaviour (the sync controller's emission
// coalescing, the post-drag grace window) depend on this abstraction
// rather than the time package directly, enabling deterministic tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc arms a timer that calls f once d has elapsed. The
	// returned Timer can stop the callback before it fires.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback armed via Clock.AfterFunc.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the
	// call stopped the timer before it fired.
	Stop() bool
}

//
// ---------- Real clock ----------
//

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (rt realTimer) Stop() bool { return rt.t.Stop() }

//
// ---------- Manual clock ----------
//

// ManualClock is a Clock whose time only moves when Advance is called.
// Timers armed through it fire synchronously inside Advance, in due
// order, which makes debounce behaviour fully deterministic in tests.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	counter uint64
	pending []*manualTimer
}

// NewManualClock constructs a manual clock starting at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the manual clock's current time.
func (mc *ManualClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

// AfterFunc arms a timer firing after d of manual time has elapsed.
func (mc *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.counter++
	mt := &manualTimer{
		clock: mc,
		seq:   mc.counter,
		when:  mc.now.Add(d),
		f:     f,
	}

	// Keep pending ordered by fire time, insertion order as tie-break.
	idx := sort.Search(len(mc.pending), func(i int) bool {
		if mc.pending[i].when.Equal(mt.when) {
			return mc.pending[i].seq > mt.seq
		}
		return mc.pending[i].when.After(mt.when)
	})
	mc.pending = append(mc.pending, nil)
	copy(mc.pending[idx+1:], mc.pending[idx:])
	mc.pending[idx] = mt

	return mt
}

// Advance moves the clock forward by d, firing every due timer in order.
// Callbacks run outside the clock lock so they may re-arm timers.
func (mc *ManualClock) Advance(d time.Duration) {
	mc.mu.Lock()
	target := mc.now.Add(d)
	mc.mu.Unlock()

	for {
		mc.mu.Lock()
		var next *manualTimer
		for len(mc.pending) > 0 {
			head := mc.pending[0]
			if head.stopped {
				mc.pending = mc.pending[1:]
				continue
			}
			if head.when.After(target) {
				break
			}
			mc.pending = mc.pending[1:]
			next = head
			break
		}
		if next == nil {
			mc.now = target
			mc.mu.Unlock()
			return
		}
		// Time reaches the timer's deadline before its callback runs.
		if next.when.After(mc.now) {
			mc.now = next.when
		}
		next.fired = true
		mc.mu.Unlock()

		if next.f != nil {
			next.f()
		}
	}
}

type manualTimer struct {
	clock   *ManualClock
	seq     uint64
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func (mt *manualTimer) Stop() bool {
	mt.clock.mu.Lock()
	defer mt.clock.mu.Unlock()

	if mt.fired || mt.stopped {
		return false
	}
	mt.stopped = true
	return true
}
