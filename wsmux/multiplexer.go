package wsmux

import (
	"fmt"
	"time"

	"github.com/harborws/harbor/wsevent"
	"github.com/harborws/harbor/wslog"
)

// MultiUpdate runs one tick of the readiness loop over containers and
// returns the Updates it produced:
//
//  1. Each container's BeforeSelect hook runs and may emit updates
//     unconditionally (e.g. handshake-timeout detection).
//  2. Read/write/exceptional descriptor sets are built (write only for
//     containers reporting a non-empty write buffer).
//  3. A single poll(2) wait is performed, bounded by timeout.
//  4. On wait failure, an Error{SELECT_FAILED} update is returned and
//     nothing else runs this tick.
//  5. Ready containers are dispatched read-before-write-before-
//     exceptional, for deterministic ordering within one tick; a
//     container whose stream stopped being live between the wait and
//     its own dispatch (e.g. terminated while handling an earlier
//     container's read this same tick) is skipped and logged rather
//     than dispatched into a dead stream.
//
// timeout of nil blocks indefinitely; a timeout of 0 polls without
// blocking. logger receives a line for every such skip; wslog.Discard
// silences it.
func MultiUpdate(containers []Container, timeout *time.Duration, logger wslog.Logger) []wsevent.Update {
	var updates []wsevent.Update
	emit := func(u wsevent.Update) { updates = append(updates, u) }

	live := make([]Container, 0, len(containers))
	fds := make(map[uintptr]Container, len(containers))
	var readFds, writeFds []uintptr

	for _, c := range containers {
		if !c.Stream().Live() {
			continue
		}
		c.BeforeSelect(emit)
		if !c.Stream().Live() {
			continue
		}
		fd, err := c.Stream().Fd()
		if err != nil {
			continue
		}
		live = append(live, c)
		fds[fd] = c
		readFds = append(readFds, fd)
		if !c.WriteBufferEmpty() {
			writeFds = append(writeFds, fd)
		}
	}

	sets, err := pollWait(readFds, writeFds, timeout)
	if err != nil {
		emit(wsevent.NewError(wsevent.SelectFailed, err))
		return updates
	}

	for fd, c := range fds {
		if !sets.read[fd] {
			continue
		}
		if !c.Stream().Live() {
			logSkip(logger, "read", fd)
			continue
		}
		c.HandleRead(emit)
	}
	for fd, c := range fds {
		if !sets.write[fd] {
			continue
		}
		if !c.Stream().Live() {
			logSkip(logger, "write", fd)
			continue
		}
		c.HandleWrite(emit)
	}
	for fd, c := range fds {
		if !sets.exceptional[fd] {
			continue
		}
		if !c.Stream().Live() {
			logSkip(logger, "exceptional", fd)
			continue
		}
		c.HandleExceptional(emit)
	}

	return updates
}

func logSkip(logger wslog.Logger, phase string, fd uintptr) {
	if logger == nil {
		return
	}
	logger.Log(wslog.Debug, fmt.Sprintf("wsmux: skipping %s dispatch on fd %d, stream no longer live", phase, fd), false)
}
