package timectrl

import (
	"testing"
	"time"
)

func TestManualClockAdvanceMovesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	mc := NewManualClock(start)

	mc.Advance(42 * time.Second)

	if got, want := mc.Now(), start.Add(42*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestManualClockFiresDueTimersInOrder(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	mc := NewManualClock(start)

	var fired []string
	mc.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	mc.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	mc.AfterFunc(5*time.Second, func() { fired = append(fired, "late") })

	mc.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}

	mc.Advance(2 * time.Second)
	if len(fired) != 3 || fired[2] != "late" {
		t.Fatalf("fired = %v, want [a b late]", fired)
	}
}

func TestManualClockStoppedTimerDoesNotFire(t *testing.T) {
	mc := NewManualClock(time.Unix(0, 0))

	fired := false
	timer := mc.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatalf("Stop() = false, want true for a pending timer")
	}
	mc.Advance(2 * time.Second)

	if fired {
		t.Errorf("stopped timer fired")
	}
	if timer.Stop() {
		t.Errorf("Stop() on an already-stopped timer should report false")
	}
}

func TestManualClockTimerSeesDeadlineAsNow(t *testing.T) {
	start := time.Unix(100, 0)
	mc := NewManualClock(start)

	var at time.Time
	mc.AfterFunc(3*time.Second, func() { at = mc.Now() })

	mc.Advance(10 * time.Second)

	if want := start.Add(3 * time.Second); !at.Equal(want) {
		t.Fatalf("callback observed Now() = %v, want %v", at, want)
	}
}

func TestManualClockCallbackCanRearm(t *testing.T) {
	mc := NewManualClock(time.Unix(0, 0))

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			mc.AfterFunc(time.Second, tick)
		}
	}
	mc.AfterFunc(time.Second, tick)

	mc.Advance(10 * time.Second)

	if count != 3 {
		t.Fatalf("re-armed timer fired %d times, want 3", count)
	}
}

func TestRealClockAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("real timer did not fire")
	}
}
