package daemon

import (
	"context"
	"testing"
	"time"
)

func TestTimerHubFiresAfterDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan timerFire, 4)
	hub := newTimerHub(ctx, 2, fired)

	hub.Schedule(1, 20*time.Millisecond)
	select {
	case f := <-fired:
		if f.layer != 1 {
			t.Fatalf("expected layer 1, got %d", f.layer)
		}
		if !hub.current(f) {
			t.Fatalf("fresh fire must carry the current generation")
		}
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
}

func TestTimerHubRescheduleExtendsWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan timerFire, 4)
	hub := newTimerHub(ctx, 1, fired)

	hub.Schedule(0, 60*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	hub.Schedule(0, 60*time.Millisecond)

	select {
	case <-fired:
		t.Fatalf("timer fired before the extended deadline")
	case <-time.After(45 * time.Millisecond):
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("rescheduled timer never fired")
	}
	// Exactly one fire for the whole sequence.
	select {
	case f := <-fired:
		t.Fatalf("unexpected extra fire for layer %d", f.layer)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerHubRearmSupersedesQueuedFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan timerFire, 4)
	hub := newTimerHub(ctx, 1, fired)

	hub.Schedule(0, time.Millisecond)
	var f timerFire
	select {
	case f = <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
	if !hub.current(f) {
		t.Fatalf("fire must be current before any re-arm")
	}

	// The fire sat in the channel while motion extended the window: it is
	// now stale and must not be acted on.
	hub.Schedule(0, time.Hour)
	if hub.current(f) {
		t.Fatalf("queued fire from a superseded arm must be stale")
	}
	hub.Cancel(0)
}

func TestTimerHubCancelStopsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan timerFire, 4)
	hub := newTimerHub(ctx, 1, fired)

	hub.Schedule(0, 30*time.Millisecond)
	hub.Cancel(0)
	select {
	case f := <-fired:
		t.Fatalf("cancelled timer fired for layer %d", f.layer)
	case <-time.After(100 * time.Millisecond):
	}
	// Cancel with nothing pending is harmless, as are bad ids.
	hub.Cancel(0)
	hub.Cancel(-1)
	hub.Cancel(9)
	hub.Schedule(-1, time.Millisecond)
	hub.Schedule(9, time.Millisecond)
	if hub.current(timerFire{layer: 9, gen: 1}) || hub.current(timerFire{layer: -1}) {
		t.Fatalf("out-of-range fires must never be current")
	}
}

func TestTimerHubCancelInvalidatesQueuedFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan timerFire, 4)
	hub := newTimerHub(ctx, 1, fired)

	hub.Schedule(0, time.Millisecond)
	var f timerFire
	select {
	case f = <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
	hub.Cancel(0)
	if hub.current(f) {
		t.Fatalf("fire queued before cancel must be stale")
	}
}
