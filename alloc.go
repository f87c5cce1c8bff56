// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import (
	"math/bits"
	"time"
	"unsafe"
)

const (
	// headerSize is the fixed per-chunk overhead, carved from the arena
	// alongside the payload. It must cover slotHeader and keep payloads
	// 8-byte aligned.
	headerSize = 32

	// minClassLog is the smallest size class, 2^5 = 32 bytes, the smallest
	// chunk that can hold a header.
	minClassLog = 5

	// nilOffset is the list terminator for arena offsets.
	nilOffset = ^uint32(0)
)

// Slot lifecycle states, stored in the chunk header.
const (
	slotFree uint32 = iota
	slotAllocated
	slotPending
	slotDispatching
	slotZombie
)

// slotHeader is the fixed chunk header, resident in the arena itself. It
// holds only integer fields: the arena is a plain byte slice, so nothing in
// it may be a pointer the garbage collector would need to see.
type slotHeader struct {
	next     uint32 // arena offset of the next chunk in its current list
	prev     uint32 // arena offset of the previous chunk, nilOffset at head
	gen      uint32 // generation tag, bumped on every retirement
	state    uint32
	deadline uint32 // absolute fire time; relative delay before posting
	period   uint32 // reschedule interval, periodNone for one-shot
	class    uint32 // size class, log2 of the chunk size
	ord      uint32 // carve ordinal, index into the queue's event records
}

// header returns the chunk header at the given arena offset.
//
// The cast is safe: off is always headerSize-aligned within the arena, the
// arena outlives every header pointer, and slotHeader contains no pointers.
func (q *Queue) header(off uint32) *slotHeader {
	return (*slotHeader)(unsafe.Pointer(&q.buf[off]))
}

// Event is the caller-facing handle to an allocated chunk. One Event record
// is created per carved chunk and reused for the chunk's entire lifetime, so
// steady-state allocation and post touch no heap memory.
//
// Between Alloc and Post the caller owns the event exclusively: populate the
// payload via Data, and adjust timing via SetDelay and SetPeriod. After Post
// the event belongs to the queue and must only be referenced by its ID.
type Event struct {
	q      *Queue
	off    uint32
	data   []byte
	target func([]byte)
	dtor   func([]byte)
}

// Data returns the event's payload buffer. The slice aliases queue arena
// memory and is only valid while the caller owns the event.
func (e *Event) Data() []byte {
	return e.data
}

// SetDelay sets the delay before the event fires, measured from Post.
// Sub-millisecond durations round down, and negative delays are treated as
// zero.
func (e *Event) SetDelay(d time.Duration) {
	e.q.header(e.off).deadline = durationToTicks(d)
}

// SetPeriod makes the event periodic with the given interval. A
// non-positive period makes the event one-shot.
func (e *Event) SetPeriod(d time.Duration) {
	h := e.q.header(e.off)
	if d <= 0 {
		h.period = periodNone
		return
	}
	h.period = durationToTicks(d)
}

// SetDtor registers a destructor, called with the payload exactly once when
// the event is destroyed, whether it fired, was cancelled, or the queue was
// closed. The destructor runs without the queue lock held and must not
// block.
func (e *Event) SetDtor(fn func([]byte)) {
	e.dtor = fn
}

// sizeClass returns the size class for a payload of the given size, or
// (0, false) when it exceeds the largest class the arena could hold.
func (q *Queue) sizeClass(size int) (uint32, bool) {
	n := uint(size) + headerSize
	class := uint32(bits.Len(n - 1))
	if class < minClassLog {
		class = minClassLog
	}
	if class >= uint32(len(q.freelist)) {
		return 0, false
	}
	return class, true
}

// allocLocked carves or reuses a chunk of the given class, returning its
// arena offset, or nilOffset when the arena is exhausted. On first carve of
// a chunk its Event record and generation are initialized.
func (q *Queue) allocLocked(class uint32) uint32 {
	if off := q.freelist[class]; off != nilOffset {
		h := q.header(off)
		q.freelist[class] = h.next
		q.freeCount[class]--
		return off
	}

	chunk := uint32(1) << class
	if uint64(q.bump)+uint64(chunk) > uint64(len(q.buf)) {
		return nilOffset
	}
	off := q.bump
	q.bump += chunk

	h := q.header(off)
	*h = slotHeader{
		next:  nilOffset,
		prev:  nilOffset,
		gen:   1,
		class: class,
		ord:   uint32(len(q.events)),
	}
	q.events = append(q.events, &Event{
		q:   q,
		off: off,
	})
	return off
}

// freeLocked returns a chunk to its class free list. The caller must have
// already bumped the generation and run the destructor.
func (q *Queue) freeLocked(off uint32) {
	h := q.header(off)
	h.state = slotFree
	h.next = q.freelist[h.class]
	h.prev = nilOffset
	q.freelist[h.class] = off
	q.freeCount[h.class]++
}

// retireLocked bumps the chunk's generation, invalidating every ID minted
// for its current incarnation. Generations skip values whose shifted form is
// zero, so a live chunk never yields the zero ID.
func (q *Queue) retireLocked(h *slotHeader) {
	h.gen++
	if h.gen<<q.npw2 == 0 {
		h.gen = 1
	}
}

// Alloc reserves a chunk with room for a size-byte payload, returning nil
// when the queue is closed, the size exceeds the largest size class, or no
// suitable chunk is available. The returned event is one-shot with zero
// delay; adjust it before posting.
//
// Alloc never blocks and is safe to call from any goroutine.
func (q *Queue) Alloc(size int) *Event {
	if size < 0 {
		return nil
	}
	class, ok := q.sizeClass(size)
	if !ok {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	off := q.allocLocked(class)
	if off == nilOffset {
		q.mu.Unlock()
		if b := q.logger.Debug(); b != nil {
			b.Int(`size`, size).Log(`event allocation failed`)
		}
		return nil
	}

	h := q.header(off)
	h.state = slotAllocated
	h.deadline = 0
	h.period = periodNone

	e := q.events[h.ord]
	e.data = q.buf[off+headerSize : off+headerSize+uint32(size)]
	e.target = nil
	e.dtor = nil

	if q.allocated++; q.allocated > q.allocHighWater {
		q.allocHighWater = q.allocated
	}
	q.mu.Unlock()
	return e
}

// Dealloc releases an event without posting it, running its destructor if
// one was set. Posted events must not be deallocated; cancel them instead.
func (q *Queue) Dealloc(e *Event) {
	q.mu.Lock()
	h := q.header(e.off)
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
}
