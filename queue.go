// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import (
	"math/bits"
	"sync"
	"time"
	"unsafe"

	"github.com/joeycumines/logiface"
)

const (
	// minArenaSize must fit at least one chunk of the smallest class.
	minArenaSize = 1 << 6
	// maxArenaSize keeps offsets comfortably within the ID encoding.
	maxArenaSize = 1 << 28
)

// Queue is a bounded, time-ordered event queue. Events are allocated from a
// fixed arena, posted from any goroutine, and dispatched in timestamp order
// by a single dispatcher.
//
// All methods are safe for concurrent use, but only one goroutine may run
// Dispatch, Run, or DispatchForever at a time.
type Queue struct {
	_ [0]func() // prevent copying

	mu sync.Mutex

	// arena state
	buf       []byte
	npw2      uint32
	bump      uint32
	freelist  []uint32
	freeCount []uint32
	events    []*Event

	// list heads, arena offsets
	pending     uint32
	dispatching uint32

	breakFlag bool
	closed    bool

	background func(next time.Duration)
	chained    *Queue
	chainID    ID

	clock  Clock
	sema   Semaphore
	logger *logiface.Logger[logiface.Event]

	// counters, guarded by mu
	allocated      uint32
	allocHighWater uint32
	pendingCount   uint32
	posted         uint64
	dispatched     uint64
	canceled       uint64
	overruns       uint64
}

// New constructs a queue whose arena is size bytes. The arena bounds the
// total payload and header bytes of all outstanding events; once exhausted,
// Alloc and the Call helpers fail until events complete or are cancelled.
func New(size int, opts ...Option) (*Queue, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if size < minArenaSize || size > maxArenaSize {
		return nil, ErrArenaSize
	}

	buf := cfg.buffer
	if len(buf) == 0 {
		buf = make([]byte, size)
	} else {
		if pad := int(-uintptr(unsafe.Pointer(&buf[0])) & 7); len(buf) >= size+pad {
			buf = buf[pad:]
		} else {
			return nil, ErrArenaSize
		}
	}
	buf = buf[:size]

	npw2 := uint32(bits.Len(uint(size) - 1))

	q := &Queue{
		buf:         buf,
		npw2:        npw2,
		freelist:    make([]uint32, npw2+1),
		freeCount:   make([]uint32, npw2+1),
		pending:     nilOffset,
		dispatching: nilOffset,
		clock:       cfg.clock,
		sema:        cfg.sema,
		logger:      cfg.logger,
	}
	for i := range q.freelist {
		q.freelist[i] = nilOffset
	}
	if q.clock == nil {
		q.clock = newMonotonicClock()
	}
	if q.sema == nil {
		q.sema = newChanSemaphore()
	}
	return q, nil
}

// idFor mints the ID of a chunk's current incarnation.
func (q *Queue) idFor(h *slotHeader, off uint32) ID {
	return ID(h.gen<<q.npw2 | off)
}

// decodeID splits an ID into its arena offset and the header it addresses,
// returning nil when the ID does not address a carved, headerSize-aligned
// chunk.
func (q *Queue) decodeID(id ID) (*slotHeader, uint32) {
	off := uint32(id) & (1<<q.npw2 - 1)
	if off >= q.bump || off%headerSize != 0 {
		return nil, 0
	}
	h := q.header(off)
	if q.idFor(h, off) != id {
		return nil, 0
	}
	return h, off
}

// enqueueLocked inserts a chunk into the pending list in deadline order,
// after all entries at or before the same deadline, so equal deadlines fire
// in post order. Returns whether the chunk became the new head.
func (q *Queue) enqueueLocked(off, deadline uint32) bool {
	h := q.header(off)
	h.state = slotPending
	h.deadline = deadline

	prev := nilOffset
	cur := q.pending
	for cur != nilOffset {
		c := q.header(cur)
		if !tickAtOrBefore(c.deadline, deadline) {
			break
		}
		prev = cur
		cur = c.next
	}

	h.prev = prev
	h.next = cur
	if cur != nilOffset {
		q.header(cur).prev = off
	}
	if prev == nilOffset {
		q.pending = off
	} else {
		q.header(prev).next = off
	}
	q.pendingCount++
	return prev == nilOffset
}

// dequeueLocked unlinks a pending chunk. Returns whether it was the head.
func (q *Queue) dequeueLocked(off uint32) bool {
	h := q.header(off)
	head := h.prev == nilOffset
	if head {
		q.pending = h.next
	} else {
		q.header(h.prev).next = h.next
	}
	if h.next != nilOffset {
		q.header(h.next).prev = h.prev
	}
	h.next, h.prev = nilOffset, nilOffset
	q.pendingCount--
	return head
}

// headDelayLocked reports the delay until the pending head fires, zero when
// already due, and (0, false) when nothing is pending.
func (q *Queue) headDelayLocked(now uint32) (time.Duration, bool) {
	if q.pending == nilOffset {
		return 0, false
	}
	d := tickDiff(q.header(q.pending).deadline, now)
	if d < 0 {
		d = 0
	}
	return ticksToDuration(d), true
}

// notifyBackgroundLocked invokes the background update hook with the delay
// until the next event, or a negative delay when the queue is idle. Called
// with mu held whenever the pending head changes.
func (q *Queue) notifyBackgroundLocked() {
	if q.background == nil {
		return
	}
	next, ok := q.headDelayLocked(q.clock.Now())
	if !ok {
		next = -1
	}
	q.background(next)
}

// Post schedules an allocated event, transferring ownership to the queue.
// The target is invoked with the event's payload when the deadline arrives.
// The returned ID remains valid for Cancel and TimeLeft indefinitely,
// including after the event fires and its memory is reused.
//
// Post never blocks and is safe to call from any goroutine. The event must
// have come from Alloc on the same queue and must not have been posted
// already.
func (q *Queue) Post(e *Event, target func([]byte)) ID {
	if target == nil {
		panic(`evqueue: nil post target`)
	}

	q.mu.Lock()
	h := q.header(e.off)
	if q.closed {
		q.retireLocked(h)
		dtor, data := e.dtor, e.data
		e.target, e.dtor = nil, nil
		q.allocated--
		q.mu.Unlock()
		if dtor != nil {
			dtor(data)
		}
		q.mu.Lock()
		q.freeLocked(e.off)
		q.mu.Unlock()
		return 0
	}

	e.target = target
	id := q.idFor(h, e.off)
	deadline := q.clock.Now() + h.deadline
	if q.enqueueLocked(e.off, deadline) {
		q.notifyBackgroundLocked()
	}
	q.posted++
	q.mu.Unlock()

	q.sema.Release()

	if b := q.logger.Trace(); b != nil {
		b.Uint64(`id`, uint64(id)).
			Uint64(`deadline`, uint64(deadline)).
			Log(`event posted`)
	}
	return id
}

// Background registers a hook invoked with the delay until the next pending
// event whenever that delay is invalidated by queue activity, with a
// negative delay when the queue becomes idle. It is invoked with internal
// locks held and must not call back into the queue. Pass nil to remove the
// hook.
//
// Use it to drive a host timer for queues dispatched with Dispatch(0) from
// an external loop. Registering invokes the hook once with the current
// state.
func (q *Queue) Background(update func(next time.Duration)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.background = update
	q.notifyBackgroundLocked()
}

// destroyListLocked retires and collects every chunk on a list, returning
// the events whose destructors still need to run. Used by Close.
func (q *Queue) destroyListLocked(head uint32) []*Event {
	var out []*Event
	for off := head; off != nilOffset; {
		h := q.header(off)
		next := h.next
		q.retireLocked(h)
		out = append(out, q.events[h.ord])
		off = next
	}
	return out
}

// Close destroys the queue: every pending and in-flight event is retired,
// destructors run, and subsequent Alloc and Post calls fail. The dispatcher
// is woken so a blocked Dispatch can observe the close.
//
// Close does not wait for a concurrent Dispatch to return. Closing a queue
// that is chained into another queue's dispatch loop unchains it and
// cancels its update event in the chain target.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	q.breakFlag = true
	chainTarget, chainID := q.chained, q.chainID
	q.chained, q.chainID = nil, 0
	q.background = nil

	doomed := q.destroyListLocked(q.pending)
	doomed = append(doomed, q.destroyListLocked(q.dispatching)...)
	q.pending = nilOffset
	q.dispatching = nilOffset
	q.pendingCount = 0
	q.mu.Unlock()

	for _, e := range doomed {
		if e.dtor != nil {
			e.dtor(e.data)
		}
		e.target, e.dtor = nil, nil
	}

	q.mu.Lock()
	for _, e := range doomed {
		q.freeLocked(e.off)
		q.allocated--
	}
	q.mu.Unlock()

	q.sema.Release()

	if chainTarget != nil && chainID != 0 {
		chainTarget.Cancel(chainID)
	}

	if b := q.logger.Debug(); b != nil {
		b.Int(`destroyed`, len(doomed)).Log(`queue closed`)
	}
	return nil
}
