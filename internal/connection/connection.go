// Package connection implements the per-client state machine: a
// growable read buffer, a write queue with a cursor into its head
// chunk, and the edge-triggered read/drain loops that must run until
// EAGAIN on every readiness notification.
package connection

import (
	"errors"
	"fmt"

	"github.com/bp7968h/epoll-reactor/internal/epoll"
	"github.com/bp7968h/epoll-reactor/internal/handler"
)

// ReadOutcome is why TryRead stopped looping.
type ReadOutcome int

const (
	// ReadWouldBlock means the fd reported EAGAIN; wait for the next
	// readiness event.
	ReadWouldBlock ReadOutcome = iota
	// ReadEOF means the peer closed its write side (zero-byte read).
	ReadEOF
	// ReadErr means a fatal I/O error occurred.
	ReadErr
	// ReadClosed means deliver caused the connection to be torn down
	// (its fd is already closed and removed from the table); the caller
	// must not inspect or act on it any further.
	ReadClosed
)

// DrainOutcome is why TryDrain stopped looping.
type DrainOutcome int

const (
	// DrainDone means the write queue emptied.
	DrainDone DrainOutcome = iota
	// DrainWouldBlock means a write returned EAGAIN with bytes still
	// queued; writable interest must be (re)armed.
	DrainWouldBlock
	// DrainErr means a fatal I/O error occurred.
	DrainErr
)

// ErrQueueTooLarge is returned by PushWrite when appending would push
// the connection's queued bytes past its configured soft limit.
var ErrQueueTooLarge = errors.New("connection: write queue soft limit exceeded")

// Connection is the per-client state the reactor tracks for one
// accepted socket. It is owned exclusively by the reactor; handler
// callbacks observe it only through the parameters passed to them and
// must not retain it.
type Connection struct {
	ID   uint64
	Fd   int
	Peer string

	readBuf []byte

	writeQueue   [][]byte
	queuedBytes  int
	cursor       int
	wantWritable bool
	closing      bool
	reasonSet    bool
	reason       handler.DisconnectReason

	softLimit int // 0 means unbounded

	tornDown bool
}

// New wraps an already non-blocking, accepted socket fd.
func New(id uint64, fd int, peer string, writeQueueSoftLimit int) *Connection {
	return &Connection{
		ID:        id,
		Fd:        fd,
		Peer:      peer,
		softLimit: writeQueueSoftLimit,
	}
}

// Closing reports whether the connection has been marked for teardown.
func (c *Connection) Closing() bool { return c.closing }

// MarkClosing sets the terminal flag and records the first reason
// given for closing; later calls do not override it, so OnDisconnect
// always observes exactly one, deterministic cause. A closing
// connection accepts no new reads; the reactor drains writeQueue
// best-effort, then destroys it.
func (c *Connection) MarkClosing(reason handler.DisconnectReason) {
	c.closing = true
	if !c.reasonSet {
		c.reason = reason
		c.reasonSet = true
	}
}

// Reason returns the recorded teardown reason. Only meaningful once
// Closing reports true.
func (c *Connection) Reason() handler.DisconnectReason { return c.reason }

// MarkTornDown records that the connection's destroy sequence (fd
// close, table removal, OnDisconnect) has run, and reports whether it
// had already been marked. The reactor calls this at the top of its
// teardown routine so a connection destroyed mid-callback — e.g. a
// write failure discovered while still inside the read-delivery loop
// that triggered it — cannot be torn down a second time.
func (c *Connection) MarkTornDown() (alreadyTornDown bool) {
	alreadyTornDown = c.tornDown
	c.tornDown = true
	return alreadyTornDown
}

// TornDown reports whether MarkTornDown has already run for this
// connection.
func (c *Connection) TornDown() bool { return c.tornDown }

// Discard drops any queued-but-undelivered write bytes. Used on fatal
// errors, where teardown is immediate rather than waiting for a
// best-effort drain that can no longer succeed.
func (c *Connection) Discard() {
	c.writeQueue = nil
	c.queuedBytes = 0
	c.cursor = 0
}

// WantWritable reports whether the connection is currently registered
// for EPOLLOUT.
func (c *Connection) WantWritable() bool { return c.wantWritable }

// SetWantWritable updates the bookkeeping flag; the reactor is
// responsible for the matching epoll_mod call.
func (c *Connection) SetWantWritable(v bool) { c.wantWritable = v }

// QueueEmpty reports whether the write queue has fully drained.
func (c *Connection) QueueEmpty() bool { return len(c.writeQueue) == 0 }

// QueuedBytes returns the total bytes currently queued for write,
// including the undrained tail of the head chunk.
func (c *Connection) QueuedBytes() int { return c.queuedBytes }

// PushWrite appends b to the write queue without performing any I/O.
// If a soft limit is configured and appending would exceed it, the
// bytes are not queued and ErrQueueTooLarge is returned; the caller
// (the reactor) tears the connection down with reason Error and can
// report the discarded length.
func (c *Connection) PushWrite(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if c.softLimit > 0 && c.queuedBytes+len(b) > c.softLimit {
		return fmt.Errorf("%w: queued=%d incoming=%d limit=%d", ErrQueueTooLarge, c.queuedBytes, len(b), c.softLimit)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	c.writeQueue = append(c.writeQueue, cp)
	c.queuedBytes += len(b)
	return nil
}

// TryDrain repeatedly writes from the head chunk starting at cursor,
// advancing cursor and popping fully-written chunks, until the queue
// empties (DrainDone), a write would block (DrainWouldBlock), or a
// fatal error occurs (DrainErr). Per the edge-triggered policy this
// must be looped by the caller's readiness event to completion or
// EAGAIN — this method does that looping internally for one
// readiness notification.
func (c *Connection) TryDrain() (DrainOutcome, int, error) {
	written := 0
	for len(c.writeQueue) > 0 {
		head := c.writeQueue[0]
		n, err := epoll.Write(c.Fd, head[c.cursor:])
		if n > 0 {
			written += n
			c.cursor += n
			c.queuedBytes -= n
		}
		if err != nil {
			if epoll.IsWouldBlock(err) {
				return DrainWouldBlock, written, nil
			}
			return DrainErr, written, err
		}
		if c.cursor >= len(head) {
			c.writeQueue = c.writeQueue[1:]
			c.cursor = 0
		}
		// On a short write the loop retries the rest of the head chunk;
		// the next write either makes progress or reports EAGAIN.
	}
	return DrainDone, written, nil
}

// TryRead repeatedly reads into a scratch buffer and appends to the
// internal read buffer; after each append it consults frameLen to see
// whether a complete message now sits at the head, delivering each one
// via deliver until no more complete frames remain. It stops on
// would-block, peer-closed, or fatal error.
//
// deliver receives a slice that aliases the internal read buffer and
// is only valid until deliver returns, since the buffer is compacted
// right afterwards; callers that need to retain it must copy.
func (c *Connection) TryRead(scratch []byte, frameLen func(buf []byte) int, deliver func(frame []byte) error) (ReadOutcome, int, error) {
	total := 0
	for {
		n, err := epoll.Read(c.Fd, scratch)
		if n > 0 {
			total += n
			c.readBuf = append(c.readBuf, scratch[:n]...)
			for {
				want := frameLen(c.readBuf)
				if want <= 0 || want > len(c.readBuf) {
					break
				}
				frame := c.readBuf[:want]
				if derr := deliver(frame); derr != nil {
					return ReadErr, total, derr
				}
				if c.tornDown {
					// deliver's callback chain reached the reactor's
					// teardown routine (e.g. a reply failed to queue and
					// was torn down immediately): c.Fd is already closed,
					// so reading it again would observe an unrelated,
					// possibly-reused descriptor.
					return ReadClosed, total, nil
				}
				remaining := len(c.readBuf) - want
				copy(c.readBuf, c.readBuf[want:])
				c.readBuf = c.readBuf[:remaining]
			}
		}
		if err != nil {
			if epoll.IsWouldBlock(err) {
				return ReadWouldBlock, total, nil
			}
			return ReadErr, total, err
		}
		if n == 0 {
			return ReadEOF, total, nil
		}
	}
}
