// Package wsserver implements the Server: it owns an optional
// accepting endpoint and the table of live Connections, and drives
// both through the wsmux Multiplexer.
package wsserver

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/harborws/harbor/wsconn"
	"github.com/harborws/harbor/wsevent"
	"github.com/harborws/harbor/wsframe"
	"github.com/harborws/harbor/wslog"
	"github.com/harborws/harbor/wsmux"
)

// Server owns an accepting endpoint (optional — a listener-less
// Server supports in-process pair tests) and a mapping index →
// Connection.
type Server struct {
	cfg *Config

	mu          sync.RWMutex
	network     string
	listener    net.Listener
	accepting   *wsmux.Accepting
	connections map[int]*wsconn.Connection
	nextIndex   int

	identifier string
	closed     bool
	forkChild  bool

	stats stats
}

type stats struct {
	totalAccepted int64
}

// Stats is an aggregate snapshot of Server-wide counters plus the sum
// of every currently owned Connection's own Stats.
type Stats struct {
	ActiveConnections int
	TotalAccepted     int64
	FramesRead        int64
	FramesWritten     int64
	BytesRead         int64
	BytesWritten      int64
}

// Stats returns a point-in-time snapshot summing every live
// connection's counters onto the server-wide totals.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Stats{
		ActiveConnections: len(s.connections),
		TotalAccepted:     s.stats.totalAccepted,
	}
	for _, c := range s.connections {
		cs := c.Stats()
		out.FramesRead += cs.FramesRead
		out.FramesWritten += cs.FramesWritten
		out.BytesRead += cs.BytesRead
		out.BytesWritten += cs.BytesWritten
	}
	return out
}

// New constructs a Server. When cfg.Address is
// non-empty it binds a listening endpoint immediately, unlinking a
// stale UNIX-domain socket file (with a warning) and creating the
// parent directory (mode 0770) first. Bind failure is a fatal
// initialization error.
func New(opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = wslog.Discard
	}

	id := cfg.Identifier
	if id == "" {
		id = "harbor/" + uuid.NewString()[:8]
	}

	s := &Server{
		cfg:         cfg,
		connections: make(map[int]*wsconn.Connection),
		identifier:  id,
	}

	if cfg.Address == "" {
		return s, nil
	}

	network, address, err := ParseAddress(cfg.Address, cfg.UseCrypto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	s.network = network

	if IsUnixNetwork(network) {
		if err := s.prepareUnixSocket(address); err != nil {
			return nil, err
		}
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	s.listener = ln
	s.accepting = wsmux.NewAccepting(ln, cfg.AutoAccept, s.registerAccepted, cfg.AcceptTimeout)
	return s, nil
}

// prepareUnixSocket unlinks a stale socket file (warn) and creates its
// parent directory (mode 0770) if absent.
func (s *Server) prepareUnixSocket(path string) error {
	if _, err := os.Stat(path); err == nil {
		s.cfg.Logger.Log(wslog.Warning, fmt.Sprintf("removing stale unix socket file %s", path), false)
		if err := unix.Unlink(path); err != nil {
			return fmt.Errorf("%w: %v", ErrBindFailed, err)
		}
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return fmt.Errorf("%w: %v", ErrSocketDirFail, err)
		}
	}
	return nil
}

// Identifier implements wsconn.Owner.
func (s *Server) Identifier() string { return s.identifier }

// ListenAddr returns the bound listener's network address, or "" for
// a listener-less Server.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// registerAccepted assigns the next index, wraps conn in a
// wsconn.Connection, and stores it.
func (s *Server) registerAccepted(conn net.Conn) wsevent.ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.nextIndex
	s.nextIndex++
	c := wsconn.New(conn, idx, s, s.cfg.Logger)
	s.connections[idx] = c
	s.stats.totalAccepted++
	return c
}

// containers snapshots {accepting} ∪ connections for one Multiplexer
// tick.
func (s *Server) containers() []wsmux.Container {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wsmux.Container, 0, len(s.connections)+1)
	if s.accepting != nil {
		out = append(out, s.accepting)
	}
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Update runs one Multiplexer tick over this Server's containers and
// removes any connection that reached Closed as a result.
func (s *Server) Update(timeout *time.Duration) []wsevent.Update {
	updates := wsmux.MultiUpdate(s.containers(), timeout, s.cfg.Logger)
	s.reapClosed()
	return updates
}

func (s *Server) reapClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, c := range s.connections {
		if c.State() == wsconn.Closed {
			delete(s.connections, idx)
		}
	}
}

// AcceptNewConnection is the manual counterpart to auto-accept. It is
// a usage error to call this on a Server with no listener.
func (s *Server) AcceptNewConnection() ([]wsevent.Update, error) {
	if s.accepting == nil {
		return nil, ErrNoListener
	}
	var updates []wsevent.Update
	s.accepting.AcceptNext(func(u wsevent.Update) { updates = append(updates, u) })
	return updates, nil
}

// DisconnectAll enqueues a Close frame carrying code and reason on
// every currently owned connection.
func (s *Server) DisconnectAll(code wsframe.CloseCode, reason string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		c.Close(code, reason)
	}
}

// Connections returns a snapshot of currently owned connections keyed
// by index.
func (s *Server) Connections() map[int]*wsconn.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]*wsconn.Connection, len(s.connections))
	for k, v := range s.connections {
		out[k] = v
	}
	return out
}

// RemoveConnection drops idx from the connection table, closing it
// first if still open. It fails with ErrConnectionNotOwned if idx is
// not present.
func (s *Server) RemoveConnection(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[idx]
	if !ok {
		return ErrConnectionNotOwned
	}
	c.Terminate()
	delete(s.connections, idx)
	return nil
}

// ProcessDidFork implements the fork discipline: in the child
// (pid == 0) it disables listener-file cleanup and
// closes the child's copies of the parent's connections without
// unlinking the shared socket file; the parent's call (non-zero pid)
// is a no-op, kept for symmetry.
func (s *Server) ProcessDidFork(pid int) {
	if pid != 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forkChild = true
	s.cfg.ShutdownCleanup = false
	for idx, c := range s.connections {
		c.Terminate()
		delete(s.connections, idx)
	}
}

// Close closes all connections, then the accepting endpoint (honoring
// the cleanup flag), then releases the Server. Double-close is a
// silent no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for idx, c := range s.connections {
		c.Terminate()
		delete(s.connections, idx)
	}
	accepting := s.accepting
	network := s.network
	address := s.cfg.Address
	cleanup := s.cfg.ShutdownCleanup
	if ul, ok := s.listener.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(cleanup)
	}
	s.mu.Unlock()

	if accepting == nil {
		return nil
	}
	err := accepting.Close()

	if IsUnixNetwork(network) && cleanup {
		if _, _, addr, ok := parseUnixAddress(address); ok {
			if uerr := unix.Unlink(addr); uerr != nil && !os.IsNotExist(uerr) {
				s.cfg.Logger.Log(wslog.Warning, fmt.Sprintf("failed to unlink unix socket %s: %v", addr, uerr), false)
			}
		}
	}
	return err
}

func parseUnixAddress(spec string) (network, _, address string, ok bool) {
	n, a, err := ParseAddress(spec, false)
	if err != nil || n != "unix" {
		return "", "", "", false
	}
	return n, "", a, true
}
