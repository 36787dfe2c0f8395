//go:build unix

package wsmux

import (
	"time"

	"golang.org/x/sys/unix"
)

// readySets is the outcome of one readiness wait: the fds ready for
// read, write, and exceptional conditions. This implementation is
// built on poll(2) via golang.org/x/sys/unix rather than raw select(2)
// to avoid FD_SETSIZE's 1024-descriptor ceiling.
type readySets struct {
	read        map[uintptr]bool
	write       map[uintptr]bool
	exceptional map[uintptr]bool
}

// pollWait performs a single poll(2) call across the given
// descriptors, waiting up to timeout (nil = block indefinitely, 0 =
// return immediately).
func pollWait(readFds, writeFds []uintptr, timeout *time.Duration) (readySets, error) {
	byFd := make(map[uintptr]*unix.PollFd)
	order := make([]uintptr, 0, len(readFds)+len(writeFds))

	get := func(fd uintptr) *unix.PollFd {
		if pfd, ok := byFd[fd]; ok {
			return pfd
		}
		pfd := &unix.PollFd{Fd: int32(fd)}
		byFd[fd] = pfd
		order = append(order, fd)
		return pfd
	}

	for _, fd := range readFds {
		get(fd).Events |= unix.POLLIN
	}
	for _, fd := range writeFds {
		get(fd).Events |= unix.POLLOUT
	}

	pfds := make([]unix.PollFd, len(order))
	for i, fd := range order {
		pfds[i] = *byFd[fd]
	}

	ms := -1
	if timeout != nil {
		ms = int(timeout.Milliseconds())
		if ms < 0 {
			ms = 0
		}
	}

	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if err == unix.EINTR {
			return readySets{read: map[uintptr]bool{}, write: map[uintptr]bool{}, exceptional: map[uintptr]bool{}}, nil
		}
		return readySets{}, err
	}

	out := readySets{read: map[uintptr]bool{}, write: map[uintptr]bool{}, exceptional: map[uintptr]bool{}}
	if n == 0 {
		return out, nil
	}
	for _, pfd := range pfds {
		fd := uintptr(pfd.Fd)
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP) != 0 {
			out.read[fd] = true
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			out.write[fd] = true
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			out.exceptional[fd] = true
		}
	}
	return out, nil
}
