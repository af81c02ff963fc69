// Package reactor defines the readiness notification contract consumed by the
// stream and datagram engines, and an epoll implementation of it.
package reactor

import (
	"time"
)

// Handler receives a readiness notification. expired is true when the watcher
// timed out before the handle became ready.
type Handler func(expired bool)

type Reactor interface {
	// Poll creates a read-readiness watcher for fd.
	Poll(fd int, handler Handler) (Watcher, error)
	// Await creates a write-readiness watcher for fd.
	Await(fd int, handler Handler) (Watcher, error)
	// AfterFunc runs f on the reactor after d.
	AfterFunc(d time.Duration, f func()) Timer
	Close() error
}

// Watcher is armed by Listen and fires at most once per Listen.
type Watcher interface {
	// Listen arms the watcher. A positive timeout fires the handler with
	// expired set if the handle does not become ready in time.
	Listen(timeout time.Duration) error
	IsPending() bool
	// Cancel disarms the watcher without firing it.
	Cancel()
	// Free disarms the watcher and releases it. A freed watcher cannot be
	// armed again.
	Free()
}

type Timer interface {
	// Stop reports whether it prevented the function from running.
	Stop() bool
}
