// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package evqueue

import (
	"github.com/joeycumines/logiface"
)

// queueOptions holds configuration options for Queue creation.
type queueOptions struct {
	buffer []byte
	clock  Clock
	sema   Semaphore
	logger *logiface.Logger[logiface.Event]
}

// Option configures a Queue instance.
type Option interface {
	applyQueue(*queueOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyQueueFunc func(*queueOptions) error
}

func (x *optionImpl) applyQueue(opts *queueOptions) error {
	return x.applyQueueFunc(opts)
}

// WithBuffer provides the arena backing the queue. Up to 7 leading bytes may
// go unused to align chunk headers to 8 bytes, and the buffer must hold the
// size passed to New after those bytes. Without this option New allocates its
// own arena.
func WithBuffer(buf []byte) Option {
	return &optionImpl{func(opts *queueOptions) error {
		opts.buffer = buf
		return nil
	}}
}

// WithClock overrides the queue's millisecond clock. Intended for tests and
// for hosts that already maintain a wrapping tick counter.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *queueOptions) error {
		opts.clock = clock
		return nil
	}}
}

// WithSemaphore overrides the dispatcher wakeup primitive, e.g. with an
// EventfdSemaphore so a host poller can observe queue wakeups.
func WithSemaphore(sema Semaphore) Option {
	return &optionImpl{func(opts *queueOptions) error {
		opts.sema = sema
		return nil
	}}
}

// WithLogger attaches a structured logger. Lifecycle events log at debug
// and trace, recovered callback panics at error. A nil logger disables
// logging, which is also the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *queueOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to queueOptions.
func resolveOptions(opts []Option) (*queueOptions, error) {
	cfg := &queueOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyQueue(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
