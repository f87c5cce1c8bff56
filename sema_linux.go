//go:build linux

package evqueue

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// EventfdSemaphore is a Semaphore backed by a Linux eventfd. It behaves
// identically to the default semaphore, but exposes a pollable file
// descriptor, so a host event loop can include the queue's wakeups in its
// own poll set.
type EventfdSemaphore struct {
	fd int
}

// NewEventfdSemaphore creates an eventfd-backed semaphore.
func NewEventfdSemaphore() (*EventfdSemaphore, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &EventfdSemaphore{fd: fd}, nil
}

// Fd returns the underlying eventfd, for registration with an external
// poller. The caller must not close it.
func (x *EventfdSemaphore) Fd() int {
	return x.fd
}

// Release increments the eventfd counter, waking a waiter if one is polling.
func (x *EventfdSemaphore) Release() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(x.fd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

// Wait polls the eventfd for readability, then drains the counter. The
// counter is drained in full, so releases coalesce.
func (x *EventfdSemaphore) Wait(timeout time.Duration) bool {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(x.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 {
			return false
		}
		break
	}
	var buf [8]byte
	for {
		_, err := unix.Read(x.fd, buf[:])
		if err != unix.EINTR {
			break
		}
	}
	return true
}

// Close releases the eventfd. The semaphore must not be used afterwards.
func (x *EventfdSemaphore) Close() error {
	return unix.Close(x.fd)
}
