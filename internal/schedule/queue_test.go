package schedule

import (
	"context"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestArmAndPopDue(t *testing.T) {
	t.Parallel()

	q := New(nil)
	q.Arm(Timer{AlertID: "a-1", Step: 0, Version: 1, Due: t0.Add(15 * time.Minute)})
	q.Arm(Timer{AlertID: "a-2", Step: 0, Version: 1, Due: t0.Add(5 * time.Minute)})
	q.Arm(Timer{AlertID: "a-3", Step: 0, Version: 1, Due: t0.Add(10 * time.Minute)})

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	// Nothing due yet.
	if due := q.popDue(t0); len(due) != 0 {
		t.Fatalf("popDue(t0) = %v, want none", due)
	}

	// Two due, earliest first.
	due := q.popDue(t0.Add(10 * time.Minute))
	if len(due) != 2 {
		t.Fatalf("popDue = %d timers, want 2", len(due))
	}
	if due[0].AlertID != "a-2" || due[1].AlertID != "a-3" {
		t.Errorf("order = [%s %s], want [a-2 a-3]", due[0].AlertID, due[1].AlertID)
	}
	if q.Len() != 1 {
		t.Errorf("Len() after pop = %d, want 1", q.Len())
	}
}

func TestArm_ReplacesExisting(t *testing.T) {
	t.Parallel()

	q := New(nil)
	q.Arm(Timer{AlertID: "a-1", Step: 0, Version: 1, Due: t0.Add(15 * time.Minute)})
	q.Arm(Timer{AlertID: "a-1", Step: 1, Version: 2, Due: t0.Add(45 * time.Minute)})

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (one timer per alert)", q.Len())
	}

	due := q.popDue(t0.Add(time.Hour))
	if len(due) != 1 {
		t.Fatalf("popDue = %d, want 1", len(due))
	}
	if due[0].Step != 1 || due[0].Version != 2 {
		t.Errorf("surviving timer = %+v, want the replacement", due[0])
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	q := New(nil)
	q.Arm(Timer{AlertID: "a-1", Due: t0.Add(time.Minute)})
	q.Arm(Timer{AlertID: "a-2", Due: t0.Add(time.Minute)})
	q.Cancel("a-1")
	q.Cancel("a-ghost") // cancelling an unarmed alert is a no-op

	due := q.popDue(t0.Add(time.Hour))
	if len(due) != 1 || due[0].AlertID != "a-2" {
		t.Errorf("popDue = %v, want only a-2", due)
	}
}

func TestRun_FiresDueTimer(t *testing.T) {
	t.Parallel()

	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan Timer, 1)
	var once sync.Once
	go func() {
		_ = q.Run(ctx, func(_ context.Context, tm Timer) {
			once.Do(func() { fired <- tm })
		})
	}()

	q.Arm(Timer{AlertID: "a-1", Step: 0, Version: 7, Due: time.Now().Add(10 * time.Millisecond)})

	select {
	case tm := <-fired:
		if tm.AlertID != "a-1" || tm.Version != 7 {
			t.Errorf("fired timer = %+v", tm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestRun_CancelPreventsFire(t *testing.T) {
	t.Parallel()

	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan Timer, 1)
	go func() {
		_ = q.Run(ctx, func(_ context.Context, tm Timer) { fired <- tm })
	}()

	q.Arm(Timer{AlertID: "a-1", Due: time.Now().Add(50 * time.Millisecond)})
	q.Cancel("a-1")

	select {
	case tm := <-fired:
		t.Fatalf("cancelled timer fired: %+v", tm)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, func(context.Context, Timer) {}) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
