// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SizeValidation(t *testing.T) {
	for _, size := range []int{-1, 0, 1, 63, maxArenaSize + 1} {
		if _, err := New(size); err != ErrArenaSize {
			t.Fatalf("New(%d): expected ErrArenaSize, got %v", size, err)
		}
	}
	q, err := New(minArenaSize)
	require.NoError(t, err)
	require.NotNil(t, q)
}

func TestNew_WithBuffer(t *testing.T) {
	buf := make([]byte, 1024+8)
	q, err := New(1024, WithBuffer(buf))
	require.NoError(t, err)

	e := q.Alloc(16)
	require.NotNil(t, e)
	copy(e.Data(), "hello")
	q.Dealloc(e)
}

func TestNew_WithBufferTooSmall(t *testing.T) {
	if _, err := New(1024, WithBuffer(make([]byte, 16))); err != ErrArenaSize {
		t.Fatalf("expected ErrArenaSize, got %v", err)
	}
}

func TestNew_NilOptionsSkipped(t *testing.T) {
	q, err := New(256, nil, WithClock(&simClock{}), nil)
	require.NoError(t, err)
	require.NotNil(t, q)
}

func TestPost_OrdersByDeadline(t *testing.T) {
	var clock simClock
	q := newSimQueue(t, 4096, &clock)

	rec := newRecorder[int]()
	post := func(delay time.Duration, v int) {
		e := q.Alloc(0)
		require.NotNil(t, e)
		e.SetDelay(delay)
		require.NotZero(t, q.Post(e, func([]byte) { rec.Append(v) }))
	}

	post(30*time.Millisecond, 3)
	post(10*time.Millisecond, 1)
	post(20*time.Millisecond, 2)
	post(0, 0)

	clock.Advance(30)
	q.Dispatch(0)

	assert.Equal(t, []int{0, 1, 2, 3}, rec.Slice())
}

func TestPost_FIFOWithinSameDeadline(t *testing.T) {
	var clock simClock
	q := newSimQueue(t, 4096, &clock)

	rec := newRecorder[int]()
	for i := 0; i < 8; i++ {
		i := i
		e := q.Alloc(0)
		require.NotNil(t, e)
		e.SetDelay(10 * time.Millisecond)
		require.NotZero(t, q.Post(e, func([]byte) { rec.Append(i) }))
	}

	clock.Advance(10)
	q.Dispatch(0)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, rec.Slice())
}

func TestPost_PayloadDelivered(t *testing.T) {
	var clock simClock
	q := newSimQueue(t, 1024, &clock)

	e := q.Alloc(8)
	require.NotNil(t, e)
	copy(e.Data(), "payload!")

	var got string
	require.NotZero(t, q.Post(e, func(data []byte) { got = string(data) }))
	q.Dispatch(0)

	assert.Equal(t, "payload!", got)
}

func TestPost_DeadlineAcrossWrap(t *testing.T) {
	var clock simClock
	clock.Set(^uint32(0) - 100)
	q := newSimQueue(t, 1024, &clock)

	var fired bool
	_, err := q.CallIn(250*time.Millisecond, func() { fired = true })
	require.NoError(t, err)

	// the counter wraps before the deadline
	clock.Advance(200)
	q.Dispatch(0)
	require.False(t, fired, "event fired 50ms early, across the wrap")

	clock.Advance(100)
	q.Dispatch(0)
	require.True(t, fired, "event failed to fire after the wrap")
}

func TestPost_ClosedQueueDestroys(t *testing.T) {
	var clock simClock
	q := newSimQueue(t, 1024, &clock)

	e := q.Alloc(4)
	require.NotNil(t, e)
	var dtorRan bool
	e.SetDtor(func([]byte) { dtorRan = true })

	require.NoError(t, q.Close())
	id := q.Post(e, func([]byte) { t.Error("target ran on closed queue") })
	assert.Zero(t, id)
	assert.True(t, dtorRan, "expected dtor to run when post hits a closed queue")
}

func TestClose_DestroysPending(t *testing.T) {
	var clock simClock
	q := newSimQueue(t, 4096, &clock)

	rec := newRecorder[int]()
	for i := 0; i < 4; i++ {
		i := i
		e := q.Alloc(0)
		require.NotNil(t, e)
		e.SetDelay(time.Duration(i) * time.Millisecond)
		e.SetDtor(func([]byte) { rec.Append(i) })
		require.NotZero(t, q.Post(e, func([]byte) { t.Error("target ran after close") }))
	}

	require.NoError(t, q.Close())
	assert.Equal(t, 4, rec.Len(), "expected every pending dtor to run")
	assert.ErrorIs(t, q.Close(), ErrClosed)

	clock.Advance(100)
	q.Dispatch(0)
}

func TestStats(t *testing.T) {
	var clock simClock
	q := newSimQueue(t, 4096, &clock)

	s := q.Stats()
	assert.Equal(t, 4096, s.ArenaSize)
	assert.Zero(t, s.ArenaCarved)
	assert.Zero(t, s.Allocated)

	var ids []ID
	for i := 0; i < 3; i++ {
		e := q.Alloc(16)
		require.NotNil(t, e)
		e.SetDelay(10 * time.Millisecond)
		ids = append(ids, q.Post(e, func([]byte) {}))
	}

	s = q.Stats()
	assert.Equal(t, uint32(3), s.Allocated)
	assert.Equal(t, uint32(3), s.Pending)
	assert.Equal(t, uint64(3), s.Posted)
	assert.Equal(t, 3*64, s.ArenaCarved)

	require.True(t, q.Cancel(ids[0]))
	clock.Advance(10)
	q.Dispatch(0)

	s = q.Stats()
	assert.Zero(t, s.Allocated)
	assert.Zero(t, s.Pending)
	assert.Equal(t, uint64(2), s.Dispatched)
	assert.Equal(t, uint64(1), s.Canceled)
	assert.Equal(t, uint32(3), s.AllocHighWater)
	assert.Equal(t, uint32(3), s.FreeByClass[6])
}
