package evqueue

import "errors"

var (
	// ErrNoMemory indicates that the queue's arena could not satisfy an
	// allocation, either because every suitable chunk is in use, or because
	// the requested size exceeds the largest size class.
	ErrNoMemory = errors.New(`evqueue: out of event memory`)

	// ErrClosed indicates an operation on a closed queue.
	ErrClosed = errors.New(`evqueue: queue closed`)

	// ErrChainSelf indicates an attempt to chain a queue into itself.
	ErrChainSelf = errors.New(`evqueue: cannot chain a queue into itself`)

	// ErrArenaSize indicates an invalid arena size or buffer passed to New.
	ErrArenaSize = errors.New(`evqueue: invalid arena size`)
)
