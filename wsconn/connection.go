// Package wsconn implements the per-connection RFC 6455 protocol state
// machine: the handshake, the frame assembler (fragmentation, control
// interleaving, masking), the partial-write buffer, and the close
// handshake.
package wsconn

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/harborws/harbor/wsevent"
	"github.com/harborws/harbor/wsframe"
	"github.com/harborws/harbor/wshandshake"
	"github.com/harborws/harbor/wslog"
	"github.com/harborws/harbor/wsmux"
)

// HandshakeTimeout bounds how long a Connection may sit in
// AwaitingHandshake.
const HandshakeTimeout = 5 * time.Second

// ClosingTimeout bounds how long a Connection may sit in
// ClosingLocal awaiting the peer's echoed Close.
const ClosingTimeout = 5 * time.Second

// ReadTickBudget and WriteTickBudget are the default per-tick byte
// budgets, so one busy connection cannot starve the others sharing the
// Multiplexer.
const (
	ReadTickBudget  = 16384
	WriteTickBudget = 16384
)

// Owner is Connection's non-owning back-reference to its Server,
// modeled as a narrow interface rather than a concrete pointer to
// avoid an ownership cycle.
type Owner interface {
	Identifier() string
}

// Connection drives one WebSocket session end to end: handshake, open
// message exchange, and the close handshake.
type Connection struct {
	id     string
	index  int
	server Owner
	logger wslog.Logger

	conn       net.Conn
	peerAddr   string
	createdAt  time.Time
	closed     bool

	state             State
	handshakeDeadline time.Time
	closingDeadline   time.Time

	readBuf []byte

	fragmentOpcode *wsframe.Opcode
	fragmentBuf    []byte

	queue             *writeQueue
	currentWriteFrame []byte

	closeCodeSent     *wsframe.CloseCode
	closeCodeReceived *wsframe.CloseCode

	stats Stats
}

// Stats is a snapshot of per-connection frame and byte counters.
type Stats struct {
	FramesRead    int64
	FramesWritten int64
	BytesRead     int64
	BytesWritten  int64
}

// New constructs a Connection in AwaitingHandshake for a freshly
// accepted net.Conn. index is assigned by the owning Server.
func New(conn net.Conn, index int, server Owner, logger wslog.Logger) *Connection {
	if logger == nil {
		logger = wslog.Discard
	}
	now := time.Now()
	return &Connection{
		id:                uuid.NewString(),
		index:             index,
		server:            server,
		logger:            logger,
		conn:              conn,
		peerAddr:          conn.RemoteAddr().String(),
		createdAt:         now,
		state:             AwaitingHandshake,
		handshakeDeadline: now.Add(HandshakeTimeout),
		queue:             newWriteQueue(),
	}
}

// ID implements wsevent.ConnHandle.
func (c *Connection) ID() string { return c.id }

// Index returns the Server-assigned index.
func (c *Connection) Index() int { return c.index }

// PeerAddress returns the remote address captured at accept time.
func (c *Connection) PeerAddress() string { return c.peerAddr }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// Stats returns a snapshot of this connection's counters.
func (c *Connection) Stats() Stats { return c.stats }

// transition advances state, enforcing the forward-only ordering
// invariant.
func (c *Connection) transition(next State) {
	if next.rank() < c.state.rank() {
		return
	}
	c.state = next
}

// ---- wsmux.Container ----

// Stream implements wsmux.Container.
func (c *Connection) Stream() wsmux.Stream { return connStream{c} }

type connStream struct{ c *Connection }

func (s connStream) Live() bool { return !s.c.closed }

func (s connStream) Fd() (uintptr, error) {
	sc, err := s.c.rawConn()
	if err != nil {
		return 0, err
	}
	return wsmux.FD(sc)
}

// rawConn returns the underlying connection as a syscall.Conn for raw,
// non-blocking I/O via wsmux.
func (c *Connection) rawConn() (syscall.Conn, error) {
	sc, ok := c.conn.(syscall.Conn)
	if !ok {
		return nil, errors.New("wsconn: connection does not support raw fd access")
	}
	return sc, nil
}

// WriteBufferEmpty implements wsmux.Container.
func (c *Connection) WriteBufferEmpty() bool {
	return len(c.currentWriteFrame) == 0 && c.queue.Empty()
}

// BeforeSelect implements wsmux.Container: it detects handshake and
// closing-handshake timeouts.
func (c *Connection) BeforeSelect(emit func(wsevent.Update)) {
	if c.closed {
		return
	}
	now := time.Now()
	switch c.state {
	case AwaitingHandshake:
		if now.After(c.handshakeDeadline) {
			emit(wsevent.NewRead(wsevent.HandshakeTimeout, c))
			c.terminate()
		}
	case ClosingLocal:
		if !c.closingDeadline.IsZero() && now.After(c.closingDeadline) {
			emit(wsevent.NewRead(wsevent.Disconnect, c))
			c.terminate()
		}
	}
}

// HandleRead implements wsmux.Container.
func (c *Connection) HandleRead(emit func(wsevent.Update)) {
	if c.closed {
		return
	}

	sc, rcErr := c.rawConn()
	if rcErr != nil {
		emit(wsevent.NewRead(wsevent.SockDisconnect, c))
		c.terminate()
		return
	}

	buf := make([]byte, ReadTickBudget)
	n, err := wsmux.TryRead(sc, buf)
	if n > 0 {
		c.readBuf = append(c.readBuf, buf[:n]...)
		c.stats.BytesRead += int64(n)
	}
	switch {
	case err != nil && isWouldBlock(err):
		// Nothing available this tick; still process any bytes
		// already buffered from a previous partial read.
	case err != nil && err != io.EOF:
		emit(wsevent.NewRead(wsevent.SockDisconnect, c))
		c.terminate()
		return
	case n == 0:
		// A zero-length read with no error is EOF on a stream socket:
		// the peer closed its write side.
		emit(wsevent.NewRead(wsevent.SockDisconnect, c))
		c.terminate()
		return
	}

	switch c.state {
	case AwaitingHandshake:
		c.handleHandshakeBytes(emit)
	case Open, ClosingLocal, ClosingRemote:
		c.handleFrameBytes(emit)
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// handleHandshakeBytes drives the incremental handshake byte parse.
func (c *Connection) handleHandshakeBytes(emit func(wsevent.Update)) {
	if len(c.readBuf) > wshandshake.MaxHeaderBytes {
		c.failHandshake(emit, 413, "request header fields too large")
		return
	}

	end := wshandshake.FindHeaderEnd(c.readBuf)
	if end < 0 {
		return
	}

	_, key, err := wshandshake.Parse(c.readBuf[:end])
	if err != nil {
		c.failHandshake(emit, 400, err.Error())
		return
	}

	c.readBuf = c.readBuf[end:]

	accept := wshandshake.Accept(key)
	resp := wshandshake.Response(accept, c.server.Identifier(), "")
	sc, rcErr := c.rawConn()
	if rcErr != nil {
		emit(wsevent.NewRead(wsevent.HandshakeFailure, c))
		c.terminate()
		return
	}
	if _, werr := wsmux.TryWrite(sc, resp); werr != nil && !isWouldBlock(werr) {
		emit(wsevent.NewRead(wsevent.HandshakeFailure, c))
		c.terminate()
		return
	}

	c.transition(Open)
	emit(wsevent.NewRead(wsevent.NewConnection, c))
}

func (c *Connection) failHandshake(emit func(wsevent.Update), code int, detail string) {
	page := wshandshake.RenderErrorPage(code, detail, c.server.Identifier())
	if sc, rcErr := c.rawConn(); rcErr == nil {
		_, _ = wsmux.TryWrite(sc, page)
	}
	emit(wsevent.NewRead(wsevent.HandshakeFailure, c))
	c.terminate()
}

// handleFrameBytes decodes as many complete frames as readBuf holds
// and dispatches each.
func (c *Connection) handleFrameBytes(emit func(wsevent.Update)) {
	for {
		frame, status, n, err := wsframe.Decode(c.readBuf, true)
		switch status {
		case wsframe.NeedMore:
			return
		case wsframe.Invalid:
			var perr *wsframe.ProtocolError
			code := wsframe.CloseProtocolError
			if errors.As(err, &perr) {
				code = perr.CloseCodeOrDefault()
			}
			c.initiateLocalClose(code, "")
			return
		}

		c.readBuf = c.readBuf[n:]
		c.stats.FramesRead++
		c.dispatchFrame(frame, emit)
		if c.closed {
			return
		}
	}
}

func (c *Connection) dispatchFrame(frame wsframe.Frame, emit func(wsevent.Update)) {
	switch frame.Opcode {
	case wsframe.OpPing:
		c.queue.PushControl(wsframe.OpPong, frame.Payload)
	case wsframe.OpPong:
		// no-op: nothing to correlate against in this implementation.
	case wsframe.OpClose:
		c.handleCloseFrame(frame, emit)
	case wsframe.OpText, wsframe.OpBinary:
		if c.fragmentOpcode != nil {
			c.initiateLocalClose(wsframe.CloseProtocolError, "")
			return
		}
		if frame.Fin {
			if frame.Opcode == wsframe.OpText && !wsframe.ValidUTF8(frame.Payload) {
				c.initiateLocalClose(wsframe.CloseInvalidPayloadData, "")
				return
			}
			c.emitMessage(emit, frame.Opcode == wsframe.OpText, frame.Payload)
			return
		}
		op := frame.Opcode
		c.fragmentOpcode = &op
		c.fragmentBuf = append([]byte(nil), frame.Payload...)
	case wsframe.OpContinuation:
		if c.fragmentOpcode == nil {
			c.initiateLocalClose(wsframe.CloseProtocolError, "")
			return
		}
		c.fragmentBuf = append(c.fragmentBuf, frame.Payload...)
		if frame.Fin {
			opcode := *c.fragmentOpcode
			payload := c.fragmentBuf
			c.fragmentOpcode = nil
			c.fragmentBuf = nil
			if opcode == wsframe.OpText && !wsframe.ValidUTF8(payload) {
				c.initiateLocalClose(wsframe.CloseInvalidPayloadData, "")
				return
			}
			c.emitMessage(emit, opcode == wsframe.OpText, payload)
		}
	default:
		c.initiateLocalClose(wsframe.CloseProtocolError, "")
	}
}

// emitMessage surfaces a completed message, distinguishing a
// zero-length payload as READ_EMPTY_FRAME rather than folding it into
// the ordinary READ kind.
func (c *Connection) emitMessage(emit func(wsevent.Update), isText bool, payload []byte) {
	if len(payload) == 0 {
		emit(wsevent.NewRead(wsevent.ReadEmptyFrame, c))
		return
	}
	emit(wsevent.NewReadMessage(c, isText, payload))
}

func (c *Connection) handleCloseFrame(frame wsframe.Frame, emit func(wsevent.Update)) {
	code, reason, err := wsframe.DecodeClosePayload(frame.Payload)
	if err != nil {
		c.sendClose(wsframe.CloseProtocolError, "")
	} else if code != 0 {
		if !wsframe.ValidReceived(code) {
			c.sendClose(wsframe.CloseProtocolError, "")
		} else if !wsframe.ValidUTF8([]byte(reason)) {
			c.sendClose(wsframe.CloseInvalidPayloadData, "")
		} else {
			c.closeCodeReceived = &code
			c.sendClose(wsframe.CloseNormalClosure, "")
		}
	} else {
		c.sendClose(0, "")
	}

	switch c.state {
	case ClosingLocal:
		// Peer's Close echoes our locally-initiated close.
		emit(wsevent.NewRead(wsevent.Disconnect, c))
		c.terminate()
	default:
		c.transition(ClosingRemote)
	}
}

// sendClose enqueues a Close control frame carrying code (0 = no
// payload) ahead of any pending data frame.
func (c *Connection) sendClose(code wsframe.CloseCode, reason string) {
	if c.closeCodeSent != nil {
		return
	}
	var payload []byte
	if code != 0 {
		payload = wsframe.EncodeClosePayload(code, reason)
		c.closeCodeSent = &code
	} else {
		z := wsframe.CloseCode(0)
		c.closeCodeSent = &z
	}
	c.queue.PushControl(wsframe.OpClose, payload)
}

// initiateLocalClose enqueues a Close frame and moves to ClosingLocal,
// used by both the protocol-error and invalid-UTF8 paths.
func (c *Connection) initiateLocalClose(code wsframe.CloseCode, reason string) {
	if c.state.rank() >= ClosingLocal.rank() {
		return
	}
	c.sendClose(code, reason)
	c.transition(ClosingLocal)
	c.closingDeadline = time.Now().Add(ClosingTimeout)
}

// Send enqueues a data-class message for transmission. It is a no-op
// once a local close has been enqueued: no data frame may appear on
// the wire after a locally-sent Close.
func (c *Connection) Send(opcode wsframe.Opcode, payload []byte) {
	if c.state.rank() >= ClosingLocal.rank() {
		return
	}
	c.queue.PushData(opcode, payload)
}

// Close enqueues a Close frame with the given application code and
// reason and begins the local close handshake.
func (c *Connection) Close(code wsframe.CloseCode, reason string) {
	if c.state.rank() >= ClosingLocal.rank() {
		return
	}
	c.sendClose(code, reason)
	c.transition(ClosingLocal)
	c.closingDeadline = time.Now().Add(ClosingTimeout)
}

// HandleWrite implements wsmux.Container: it flushes queued frames in
// bounded per-tick chunks.
func (c *Connection) HandleWrite(emit func(wsevent.Update)) {
	if c.closed {
		return
	}

	budget := WriteTickBudget
	for budget > 0 {
		if len(c.currentWriteFrame) == 0 {
			frame, ok := c.queue.Pop()
			if !ok {
				return
			}
			encoded, err := wsframe.Encode(true, frame.opcode, frame.payload, false, [4]byte{})
			if err != nil {
				emit(wsevent.NewWrite(wsevent.WriteFailed, c))
				continue
			}
			c.currentWriteFrame = encoded
		}

		chunk := c.currentWriteFrame
		if len(chunk) > budget {
			chunk = chunk[:budget]
		}
		sc, rcErr := c.rawConn()
		if rcErr != nil {
			emit(wsevent.NewWrite(wsevent.WriteFailed, c))
			c.terminate()
			return
		}
		n, err := wsmux.TryWrite(sc, chunk)
		if n > 0 {
			c.currentWriteFrame = c.currentWriteFrame[n:]
			c.stats.BytesWritten += int64(n)
			budget -= n
		}
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			emit(wsevent.NewWrite(wsevent.WriteFailed, c))
			c.terminate()
			return
		}
		if n == 0 {
			return
		}

		if len(c.currentWriteFrame) == 0 {
			c.stats.FramesWritten++
			emit(wsevent.NewWrite(wsevent.WriteCompleted, c))
			if c.state == ClosingRemote {
				emit(wsevent.NewRead(wsevent.Disconnect, c))
				c.terminate()
				return
			}
		}
	}
}

// HandleExceptional implements wsmux.Container: any exceptional
// condition on a data connection is treated as a transport failure.
func (c *Connection) HandleExceptional(emit func(wsevent.Update)) {
	if c.closed {
		return
	}
	emit(wsevent.NewRead(wsevent.SockDisconnect, c))
	c.terminate()
}

// terminate releases the stream and buffers exactly once; double-close
// is a silent no-op.
func (c *Connection) terminate() {
	if c.closed {
		return
	}
	c.closed = true
	c.transition(Closed)
	c.readBuf = nil
	c.fragmentBuf = nil
	c.currentWriteFrame = nil
	c.queue = newWriteQueue()
	_ = c.conn.Close()
}

// Terminate performs a hard close: no Close frame is sent, and the
// stream is released immediately.
func (c *Connection) Terminate() {
	c.terminate()
}

// CreatedAt returns the acceptance timestamp.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// CloseCodes returns the codes sent and received during the close
// handshake, if any.
func (c *Connection) CloseCodes() (sent, received *wsframe.CloseCode) {
	return c.closeCodeSent, c.closeCodeReceived
}
