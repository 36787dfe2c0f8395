package wsmux

import "syscall"

// FD extracts the file descriptor backing conn for use in a poll(2)
// descriptor set. The descriptor is read-only for polling purposes;
// all actual I/O goes through TryRead/TryWrite below, grounded in the
// teacher's own raw-fd epoll registration (reactor/epoll_reactor.go)
// but adapted to work through Go's net.Conn instead of a hand-rolled
// socket wrapper.
func FD(conn syscall.Conn) (uintptr, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	if err := sc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, err
	}
	return fd, nil
}

// TryRead performs exactly one non-blocking read attempt on conn.
// Because the callback always returns true, Go's runtime poller never
// parks the calling goroutine: a would-block condition surfaces as
// syscall.EAGAIN, which callers treat as "nothing available this
// tick" rather than an error.
func TryRead(conn syscall.Conn, buf []byte) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var opErr error
	if err := sc.Read(func(fd uintptr) bool {
		n, opErr = syscall.Read(int(fd), buf)
		return true
	}); err != nil {
		return 0, err
	}
	return n, opErr
}

// TryWrite performs exactly one non-blocking write attempt on conn,
// with the same would-block contract as TryRead.
func TryWrite(conn syscall.Conn, buf []byte) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var opErr error
	if err := sc.Write(func(fd uintptr) bool {
		n, opErr = syscall.Write(int(fd), buf)
		return true
	}); err != nil {
		return 0, err
	}
	return n, opErr
}
