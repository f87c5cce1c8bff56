// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import "time"

// Chain arranges for this queue to be dispatched from target's dispatcher,
// so several queues can share one dispatch goroutine. Whenever this queue's
// next deadline changes, a single update event is posted into target that
// drains this queue's due events via Dispatch(0).
//
// Chain installs a background hook and therefore replaces, and is replaced
// by, any hook registered with Background. Chaining to nil unchains.
// Chains must form an acyclic graph, and target must outlive this queue;
// unchain or close this queue before closing target.
func (q *Queue) Chain(target *Queue) error {
	if target == q {
		return ErrChainSelf
	}

	q.mu.Lock()
	prevTarget, prevID := q.chained, q.chainID
	q.chained, q.chainID = target, 0
	if target == nil {
		q.background = nil
	} else {
		q.background = func(next time.Duration) {
			q.chainUpdate(target, next)
		}
		q.notifyBackgroundLocked()
	}
	q.mu.Unlock()

	if prevTarget != nil && prevID != 0 {
		prevTarget.Cancel(prevID)
	}
	return nil
}

// chainUpdate reposts the "drain me" event into the chain target with the
// new delay. Runs with q.mu held, as all background hooks do; the lock
// order is chained queue then target, safe while chains stay acyclic.
func (q *Queue) chainUpdate(target *Queue, next time.Duration) {
	if q.chainID != 0 {
		target.Cancel(q.chainID)
		q.chainID = 0
	}
	if next < 0 {
		return
	}
	id, err := target.CallIn(next, func() {
		q.Dispatch(0)
	})
	if err != nil {
		if b := q.logger.Err(); b != nil {
			b.Err(err).Log(`chain update failed`)
		}
		return
	}
	q.chainID = id
}
