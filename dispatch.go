// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import (
	"context"
	"time"
)

// Dispatch executes events as their deadlines arrive, on the calling
// goroutine.
//
// A negative timeout dispatches until Break or Close. A zero timeout
// executes the events that are already due and returns without suspending.
// A positive timeout dispatches until at least that much time has passed.
//
// Events with equal deadlines execute in post order. A panicking callback
// is recovered, logged, and does not disturb subsequent events.
func (q *Queue) Dispatch(timeout time.Duration) {
	var deadline uint32
	bounded := timeout > 0
	if bounded {
		deadline = q.clock.Now() + durationToTicks(timeout)
	}

	for {
		q.mu.Lock()
		if q.dispatching == nilOffset {
			q.spliceReadyLocked(q.clock.Now())
		}

		for q.dispatching != nilOffset {
			off := q.dispatching
			h := q.header(off)
			q.dispatching = h.next
			h.next = nilOffset
			e := q.events[h.ord]
			target := e.target
			q.mu.Unlock()

			q.execute(e, target)

			q.mu.Lock()
			q.dispatched++
			if h.state == slotDispatching && h.period != periodNone && !q.closed {
				// phase-preserving: the deadline advances by the period, not
				// from now. An overrun deadline fires on the next pass.
				next := h.deadline + h.period
				if tickAtOrBefore(next, q.clock.Now()) {
					q.overruns++
				}
				if q.enqueueLocked(off, next) {
					q.notifyBackgroundLocked()
				}
			} else {
				q.destroyLocked(e, h)
			}

			if q.breakFlag {
				q.breakFlag = false
				q.mu.Unlock()
				return
			}
		}

		if q.breakFlag {
			q.breakFlag = false
			q.mu.Unlock()
			return
		}

		now := q.clock.Now()
		if timeout == 0 || (bounded && tickAtOrBefore(deadline, now)) {
			q.mu.Unlock()
			return
		}

		wait := time.Duration(-1)
		if next, ok := q.headDelayLocked(now); ok {
			wait = next
		}
		if bounded {
			budget := ticksToDuration(tickDiff(deadline, now))
			if wait < 0 || budget < wait {
				wait = budget
			}
		}
		q.mu.Unlock()

		q.sema.Wait(wait)
	}
}

// DispatchForever is shorthand for Dispatch with no timeout, returning only
// on Break or Close.
func (q *Queue) DispatchForever() {
	q.Dispatch(-1)
}

// Run dispatches on the calling goroutine until ctx is done, then breaks
// the dispatcher and returns the context's error.
func (q *Queue) Run(ctx context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			q.Break()
		case <-stop:
		}
	}()

	q.Dispatch(-1)
	close(stop)
	<-done
	return ctx.Err()
}

// Break requests that a running Dispatch return after the event it is
// currently executing, or immediately if it is waiting. At most one
// Dispatch returns per Break, and a Break with no dispatcher running takes
// effect on the next Dispatch call.
func (q *Queue) Break() {
	q.mu.Lock()
	q.breakFlag = true
	q.mu.Unlock()
	q.sema.Release()
}

// spliceReadyLocked moves the due prefix of the pending list onto the
// dispatching list, preserving order. The dispatching list must be empty.
func (q *Queue) spliceReadyLocked(now uint32) {
	head := q.pending
	var tail uint32 = nilOffset
	var n uint32
	cur := head
	for cur != nilOffset {
		h := q.header(cur)
		if !tickAtOrBefore(h.deadline, now) {
			break
		}
		h.state = slotDispatching
		tail = cur
		cur = h.next
		n++
	}
	if tail == nilOffset {
		return
	}

	q.pending = cur
	if cur != nilOffset {
		q.header(cur).prev = nilOffset
	}
	q.header(tail).next = nilOffset
	q.dispatching = head
	q.pendingCount -= n
	q.notifyBackgroundLocked()
}

// destroyLocked retires a chunk that will not repost, running its
// destructor without the lock held.
func (q *Queue) destroyLocked(e *Event, h *slotHeader) {
	q.retireLocked(h)
	dtor, data := e.dtor, e.data
	e.target, e.dtor = nil, nil
	q.allocated--
	if dtor != nil {
		q.mu.Unlock()
		dtor(data)
		q.mu.Lock()
	}
	q.freeLocked(e.off)
}

// execute runs an event callback, recovering and logging panics so one
// misbehaving event cannot take down the dispatcher.
func (q *Queue) execute(e *Event, target func([]byte)) {
	defer func() {
		if r := recover(); r != nil {
			if b := q.logger.Err(); b != nil {
				b.Any(`recovered`, r).Log(`event callback panicked`)
			}
		}
	}()
	target(e.data)
}
