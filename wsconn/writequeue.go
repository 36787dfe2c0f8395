package wsconn

import (
	"github.com/eapache/queue"
	"github.com/harborws/harbor/wsframe"
)

// outboundFrame is a not-yet-encoded frame waiting in a writeQueue.
type outboundFrame struct {
	opcode  wsframe.Opcode
	payload []byte
}

// writeQueue holds a Connection's pending outbound frames with
// control-first priority: control frames enqueue ahead of pending
// data frames, but never split a frame already in flight. Two
// FIFOs — one per class — give O(1) priority splicing without
// scanning a merged queue on every send. Both FIFOs are backed by
// github.com/eapache/queue, a ring-buffer queue; the control FIFO
// reuses the same type since control bursts are small and rare.
type writeQueue struct {
	control *queue.Queue
	data    *queue.Queue
}

func newWriteQueue() *writeQueue {
	return &writeQueue{control: queue.New(), data: queue.New()}
}

// PushControl enqueues a control-class frame (Close/Ping/Pong) ahead
// of any pending data frame.
func (q *writeQueue) PushControl(opcode wsframe.Opcode, payload []byte) {
	q.control.Add(outboundFrame{opcode: opcode, payload: payload})
}

// PushData enqueues a data-class frame (Text/Binary/Continuation) at
// the back of the queue.
func (q *writeQueue) PushData(opcode wsframe.Opcode, payload []byte) {
	q.data.Add(outboundFrame{opcode: opcode, payload: payload})
}

// Empty reports whether nothing is queued.
func (q *writeQueue) Empty() bool {
	return q.control.Length() == 0 && q.data.Length() == 0
}

// Pop removes and returns the next frame to send, control frames
// first, or ok=false when the queue is empty.
func (q *writeQueue) Pop() (outboundFrame, bool) {
	if q.control.Length() > 0 {
		f := q.control.Peek().(outboundFrame)
		q.control.Remove()
		return f, true
	}
	if q.data.Length() > 0 {
		f := q.data.Peek().(outboundFrame)
		q.data.Remove()
		return f, true
	}
	return outboundFrame{}, false
}
