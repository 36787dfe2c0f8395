// Package wsmux implements a single-threaded, readiness-driven
// multiplexer and the accepting endpoint that participates in the
// same readiness loop as data connections.
package wsmux

import "github.com/harborws/harbor/wsevent"

// Container is the capability every entity the Multiplexer drives must
// implement. Both wsconn.Connection and Accepting satisfy it.
type Container interface {
	// Stream returns the underlying readiness-pollable handle.
	Stream() Stream
	// WriteBufferEmpty reports whether the container currently has
	// nothing queued to write, so the Multiplexer can skip it in the
	// write-readiness set.
	WriteBufferEmpty() bool
	// BeforeSelect runs once per tick before the readiness wait,
	// giving the container a chance to push updates unconditionally
	// (e.g. handshake-timeout detection) via emit.
	BeforeSelect(emit func(wsevent.Update))
	// HandleRead is invoked when the stream is read-ready.
	HandleRead(emit func(wsevent.Update))
	// HandleWrite is invoked when the stream is write-ready.
	HandleWrite(emit func(wsevent.Update))
	// HandleExceptional is invoked when the stream reports an
	// exceptional condition.
	HandleExceptional(emit func(wsevent.Update))
}

// Stream is the readiness-pollable handle backing a Container. Fd is
// used only to build the poll(2) descriptor set; all actual I/O goes
// through the container's own TryRead/TryWrite calls so the OS-level
// poll loop and Go's runtime network poller never race over the same
// descriptor.
type Stream interface {
	Fd() (uintptr, error)
	Live() bool
}
