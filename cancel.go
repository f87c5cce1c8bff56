// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import "time"

// ID identifies a posted event. IDs encode the event's arena location and a
// generation tag, so they stay safe to use after the event has fired and
// its memory has been recycled: operations on a stale ID are no-ops. The
// zero ID is never minted and is always a no-op.
type ID uint32

// Cancel removes a posted event, reporting whether it was still pending.
//
// A pending event is unlinked and destroyed without firing. An event whose
// callback is currently executing cannot be unwound; Cancel instead
// guarantees it will not fire again, which for periodic events suppresses
// every subsequent occurrence. Stale and zero IDs do nothing.
//
// Cancel never blocks and never waits for a running callback; use external
// synchronization when the caller must not proceed until the callback is
// finished.
func (q *Queue) Cancel(id ID) bool {
	if id == 0 {
		return false
	}

	q.mu.Lock()
	h, off := q.decodeID(id)
	if h == nil {
		q.mu.Unlock()
		return false
	}

	switch h.state {
	case slotPending:
		head := q.dequeueLocked(off)
		q.retireLocked(h)
		q.canceled++
		e := q.events[h.ord]
		dtor, data := e.dtor, e.data
		e.target, e.dtor = nil, nil
		q.allocated--
		if head {
			q.notifyBackgroundLocked()
		}
		q.mu.Unlock()

		if dtor != nil {
			dtor(data)
		}

		q.mu.Lock()
		q.freeLocked(off)
		q.mu.Unlock()

		if head {
			// the dispatcher may be sleeping until a deadline that no
			// longer exists
			q.sema.Release()
		}
		if b := q.logger.Trace(); b != nil {
			b.Uint64(`id`, uint64(id)).Log(`pending event canceled`)
		}
		return true

	case slotDispatching:
		q.retireLocked(h)
		h.state = slotZombie
		q.canceled++
		q.mu.Unlock()
		if b := q.logger.Trace(); b != nil {
			b.Uint64(`id`, uint64(id)).Log(`in-flight event canceled`)
		}
		return false

	default:
		q.mu.Unlock()
		return false
	}
}

// TimeLeft reports the time remaining until the identified event fires,
// zero when it is due or currently executing, and false when the ID no
// longer identifies a live event.
func (q *Queue) TimeLeft(id ID) (time.Duration, bool) {
	if id == 0 {
		return 0, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	h, _ := q.decodeID(id)
	if h == nil {
		return 0, false
	}
	switch h.state {
	case slotPending:
		d := tickDiff(h.deadline, q.clock.Now())
		if d < 0 {
			d = 0
		}
		return ticksToDuration(d), true
	case slotDispatching:
		return 0, true
	default:
		return 0, false
	}
}
