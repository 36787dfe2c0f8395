package wsmux

import (
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/harborws/harbor/wsevent"
)

// AcceptTimeout bounds a single accept attempt so the readiness loop
// never blocks indefinitely on a single listener.
const AcceptTimeout = 5 * time.Second

var errAcceptTimeout = errors.New("wsmux: accept timed out")
var errNotPollable = errors.New("wsmux: listener does not support raw fd access")

// deadlineListener is satisfied by *net.TCPListener and
// *net.UnixListener, letting Accepting bound a single accept attempt
// without spawning a goroutine, keeping the whole loop single-threaded.
type deadlineListener interface {
	SetDeadline(time.Time) error
}

// Accepting wraps a listening endpoint as a Container so it
// participates in the same readiness loop as data connections.
type Accepting struct {
	ln net.Listener

	// autoAccept selects between two behaviors: true performs the
	// accept inline and yields NEW_TCP_CONNECTION; false yields
	// NEW_TCP_CONNECTION_AVAILABLE and waits for the host to call
	// AcceptNext.
	autoAccept bool

	// onAccept is invoked by both the inline and manual accept paths;
	// Server supplies this to register the new connection and pick
	// its index.
	onAccept func(net.Conn) wsevent.ConnHandle

	// acceptTimeout bounds a single accept attempt. Zero means
	// AcceptTimeout.
	acceptTimeout time.Duration

	closed bool
}

// NewAccepting wraps ln, an already-bound listener, as a Container.
// acceptTimeout bounds a single accept attempt; zero selects
// AcceptTimeout.
func NewAccepting(ln net.Listener, autoAccept bool, onAccept func(net.Conn) wsevent.ConnHandle, acceptTimeout time.Duration) *Accepting {
	return &Accepting{ln: ln, autoAccept: autoAccept, onAccept: onAccept, acceptTimeout: acceptTimeout}
}

// SetAutoAccept toggles auto-accept after construction (Server
// exposes this via its own auto_accept configuration).
func (a *Accepting) SetAutoAccept(v bool) { a.autoAccept = v }

// Stream implements Container.
func (a *Accepting) Stream() Stream { return acceptingStream{a} }

type acceptingStream struct{ a *Accepting }

func (s acceptingStream) Live() bool { return !s.a.closed }

func (s acceptingStream) Fd() (uintptr, error) {
	sc, ok := s.a.ln.(syscall.Conn)
	if !ok {
		return 0, errNotPollable
	}
	return FD(sc)
}

// WriteBufferEmpty is always true: an accepting endpoint never writes.
func (a *Accepting) WriteBufferEmpty() bool { return true }

// BeforeSelect is a no-op for Accepting: it has no timeout state of
// its own.
func (a *Accepting) BeforeSelect(func(wsevent.Update)) {}

// HandleRead performs the accept (auto mode) or announces
// availability (manual mode).
func (a *Accepting) HandleRead(emit func(wsevent.Update)) {
	if !a.autoAccept {
		emit(wsevent.NewRead(wsevent.NewTCPConnectionAvailable, nil))
		return
	}
	a.acceptOne(emit)
}

// AcceptNext is the manual counterpart to auto-accept, called by the
// host in response to a NEW_TCP_CONNECTION_AVAILABLE update.
func (a *Accepting) AcceptNext(emit func(wsevent.Update)) {
	a.acceptOne(emit)
}

func (a *Accepting) acceptOne(emit func(wsevent.Update)) {
	timeout := a.acceptTimeout
	if timeout == 0 {
		timeout = AcceptTimeout
	}
	if dl, ok := a.ln.(deadlineListener); ok {
		_ = dl.SetDeadline(time.Now().Add(timeout))
	}

	conn, err := a.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			emit(wsevent.NewError(wsevent.ReadFailed, errAcceptTimeout))
			return
		}
		emit(wsevent.NewError(wsevent.ReadFailed, err))
		return
	}

	if dl, ok := a.ln.(deadlineListener); ok {
		_ = dl.SetDeadline(time.Time{})
	}

	handle := a.onAccept(conn)
	emit(wsevent.NewRead(wsevent.NewTCPConnection, handle))
}

// HandleWrite is a structural error: the accepting endpoint never has
// a pending write, so the Multiplexer never selects it for writing
// under correct operation.
func (a *Accepting) HandleWrite(emit func(wsevent.Update)) {
	panic("wsmux: HandleWrite invoked on an Accepting container")
}

// HandleExceptional is a structural error under normal operation.
func (a *Accepting) HandleExceptional(emit func(wsevent.Update)) {
	panic("wsmux: HandleExceptional invoked on an Accepting container")
}

// Close shuts the listener down; double-close is a silent no-op.
func (a *Accepting) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.ln.Close()
}
