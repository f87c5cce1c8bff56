// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import (
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/exp/constraints"
)

// simClock is a manually advanced Clock, for tests that need deterministic
// deadlines, including ones that straddle the counter wrap.
type simClock struct {
	now atomic.Uint32
}

func (x *simClock) Now() uint32 {
	return x.now.Load()
}

func (x *simClock) Set(ms uint32) {
	x.now.Store(ms)
}

func (x *simClock) Advance(ms uint32) {
	x.now.Add(ms)
}

func newSimQueue(t *testing.T, size int, clock *simClock) *Queue {
	t.Helper()
	q, err := New(size, WithClock(clock))
	if err != nil {
		t.Fatalf("New(%d) failed: %v", size, err)
	}
	return q
}

// ring is a growable ring buffer over ordered elements, used by tests to
// record observation sequences and assert on their order.
type ring[E constraints.Ordered] struct {
	s    []E
	r, w uint
}

func newRing[E constraints.Ordered](size int) *ring[E] {
	if size <= 0 || size&(size-1) != 0 {
		panic(`evqueue: test ring: size must be a power of 2`)
	}
	return &ring[E]{s: make([]E, size)}
}

func (x *ring[E]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

func (x *ring[E]) Len() int {
	return int(x.w - x.r)
}

func (x *ring[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic(`evqueue: test ring: get: index out of range`)
	}
	return x.s[x.mask(x.r+uint(i))]
}

func (x *ring[E]) Append(value E) {
	if x.Len() == len(x.s) {
		s := make([]E, uint(len(x.s))<<1)
		for i := 0; i < x.Len(); i++ {
			s[i] = x.Get(i)
		}
		x.w = uint(x.Len())
		x.r = 0
		x.s = s
	}
	x.s[x.mask(x.w)] = value
	x.w++
}

func (x *ring[E]) Slice() (b []E) {
	if l := x.Len(); l != 0 {
		b = make([]E, l)
		for i := range b {
			b[i] = x.Get(i)
		}
	}
	return b
}

func (x *ring[E]) Ascending() bool {
	for i := 1; i < x.Len(); i++ {
		if x.Get(i) < x.Get(i-1) {
			return false
		}
	}
	return true
}

// recorder is a concurrency-safe ring, for recording from event callbacks.
type recorder[E constraints.Ordered] struct {
	mu sync.Mutex
	r  *ring[E]
}

func newRecorder[E constraints.Ordered]() *recorder[E] {
	return &recorder[E]{r: newRing[E](16)}
}

func (x *recorder[E]) Append(value E) {
	x.mu.Lock()
	x.r.Append(value)
	x.mu.Unlock()
}

func (x *recorder[E]) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.r.Len()
}

func (x *recorder[E]) Slice() []E {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.r.Slice()
}

func (x *recorder[E]) Ascending() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.r.Ascending()
}
