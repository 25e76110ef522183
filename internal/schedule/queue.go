// Package schedule maintains the escalation deadline timers: a
// time-ordered queue with at most one armed timer per alert, safe for
// concurrent arm/cancel against a single firing loop.
package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Timer is one armed escalation deadline. Version fences races with
// concurrent acknowledgement: a timer fired against a stale alert
// version is a no-op downstream.
type Timer struct {
	AlertID string
	Step    int
	Version uint64
	Due     time.Time
}

// ExpireFunc handles a fired timer.
type ExpireFunc func(ctx context.Context, t Timer)

type entry struct {
	timer Timer
	index int // heap index, -1 when removed
}

type timerHeap []*entry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].timer.Due.Before(h[j].timer.Due) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is the pending-timer set, a priority queue keyed by expiry.
type Queue struct {
	logger log.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu      sync.Mutex
	heap    timerHeap
	byAlert map[string]*entry
	wake    chan struct{}
}

// New creates an empty timer queue.
func New(logger log.Logger) *Queue {
	if logger == nil {
		logger = log.Nop()
	}
	return &Queue{
		logger:  logger,
		now:     time.Now,
		byAlert: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Arm schedules a timer for an alert, replacing any existing one. An
// already-due timer fires on the next loop iteration.
func (q *Queue) Arm(t Timer) {
	q.mu.Lock()
	if e, ok := q.byAlert[t.AlertID]; ok {
		heap.Remove(&q.heap, e.index)
	}
	e := &entry{timer: t}
	heap.Push(&q.heap, e)
	q.byAlert[t.AlertID] = e
	q.mu.Unlock()
	q.kick()
}

// Cancel removes the armed timer for an alert, if any.
func (q *Queue) Cancel(alertID string) {
	q.mu.Lock()
	if e, ok := q.byAlert[alertID]; ok {
		heap.Remove(&q.heap, e.index)
		delete(q.byAlert, alertID)
	}
	q.mu.Unlock()
	q.kick()
}

// Len returns the number of armed timers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// kick nudges the run loop to re-evaluate the earliest deadline.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// popDue removes and returns all timers due at or before now, in
// deadline order.
func (q *Queue) popDue(now time.Time) []Timer {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Timer
	for len(q.heap) > 0 && !q.heap[0].timer.Due.After(now) {
		e := heap.Pop(&q.heap).(*entry)
		delete(q.byAlert, e.timer.AlertID)
		due = append(due, e.timer)
	}
	return due
}

// next returns the earliest deadline and whether any timer is armed.
func (q *Queue) next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].timer.Due, true
}

// Run blocks, firing due timers until ctx is cancelled. Each fired timer
// is handled in its own goroutine so a slow escalation cannot delay
// other alerts' deadlines.
func (q *Queue) Run(ctx context.Context, fire ExpireFunc) error {
	q.logger.Info(ctx, "escalation timer loop started")

	for {
		for _, t := range q.popDue(q.now()) {
			q.logger.Info(ctx, "escalation deadline expired",
				"alert_id", t.AlertID,
				"step", t.Step,
				"due", t.Due,
			)
			go fire(ctx, t)
		}

		due, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}

		delay := due.Sub(q.now())
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
