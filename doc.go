// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package evqueue implements a bounded event queue for deferred and periodic
// work, dispatching callbacks in timestamp order from a single dispatcher.
//
// Events are carved from a fixed-size arena using power-of-two size classes,
// so allocation and free are O(1), never fragment, and touch the Go heap
// only when a chunk is carved for the first time. Producers may post from any
// goroutine; every post returns a stable integer [ID] that remains safe to
// [Queue.Cancel] even after the event has fired or its slot has been reused.
//
// Timestamps are unsigned 32-bit milliseconds that wrap, compared via signed
// difference, which bounds the maximum useful delay to half the counter
// range (a little under 25 days).
//
// The zero-allocation core ([Queue.Alloc], [Queue.Post], [Queue.Dispatch],
// [Queue.Cancel]) is wrapped by a small binding layer ([Queue.Call],
// [Queue.CallIn], [Queue.CallEvery], [Task]) for the common case of posting
// Go closures, and by [Queue.Run] for driving a dispatcher under a
// [context.Context]. Queues without a dispatcher of their own can be chained
// into another queue's dispatch loop ([Queue.Chain]), or can drive an
// external timer via [Queue.Background].
package evqueue
