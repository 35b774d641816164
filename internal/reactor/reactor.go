// Package reactor implements the single-threaded event loop: the
// readiness-to-work translation, per-connection I/O dispatch under
// edge-triggered epoll semantics, HandlerAction application, and
// cooperative shutdown. It is the core this repository exists for.
package reactor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/bp7968h/epoll-reactor/internal/bufpool"
	"github.com/bp7968h/epoll-reactor/internal/config"
	"github.com/bp7968h/epoll-reactor/internal/connection"
	"github.com/bp7968h/epoll-reactor/internal/epoll"
	"github.com/bp7968h/epoll-reactor/internal/handler"
	"github.com/bp7968h/epoll-reactor/internal/metrics"
	"github.com/bp7968h/epoll-reactor/internal/shutdown"
	"github.com/bp7968h/epoll-reactor/internal/table"
)

// scratchBufSize is the size of the temporary buffer TryRead reads
// into before appending to a connection's accumulation buffer.
const scratchBufSize = 64 * 1024

// readWriteInterest is the interest set every client fd is registered
// with on accept: readable, peer-hangup, edge-triggered.
const readWriteInterest = epoll.Readable | epoll.PeerHangup | epoll.EdgeTrigger

// writableInterest additionally includes writability, set once a write
// would block and cleared once the queue drains. Rearmed via epoll_mod
// rather than EPOLLONESHOT, since writability is a recurring interest
// here, not a one-shot notification.
const writableInterest = epoll.Readable | epoll.Writable | epoll.PeerHangup | epoll.EdgeTrigger

// Reactor is the event loop. It owns the listener, the epoll instance,
// the connection table, and drives the application's EventHandler from
// a single execution context.
type Reactor struct {
	cfg     config.Config
	log     logrus.FieldLogger
	h       handler.EventHandler
	metrics *metrics.Collectors

	poller   *epoll.Poller
	listenFd int
	tbl      *table.Table
	scratch  *bufpool.Pool
	events   []unix.EpollEvent
}

// New validates the handler's API version, binds the listener, creates
// the epoll instance, and registers the listener for accept readiness.
// The reactor is ready to Run after this returns successfully.
func New(cfg config.Config, h handler.EventHandler, log logrus.FieldLogger, mcs *metrics.Collectors) (*Reactor, error) {
	if err := handler.CheckCompatibility(h); err != nil {
		return nil, err
	}

	listenFd, err := epoll.ListenTCP(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	poller, err := epoll.Create()
	if err != nil {
		epoll.Close(listenFd)
		return nil, err
	}

	if err := poller.Add(listenFd, epoll.Readable|epoll.EdgeTrigger); err != nil {
		poller.Close()
		epoll.Close(listenFd)
		return nil, err
	}

	maxEvents := cfg.MaxEventsPerCycle
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	return &Reactor{
		cfg:      cfg,
		log:      log,
		h:        h,
		metrics:  mcs,
		poller:   poller,
		listenFd: listenFd,
		tbl:      table.New(),
		scratch:  bufpool.New(scratchBufSize),
		events:   make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Run drives the main cycle until sd is requested, then performs the
// drain phase and returns. It does not return an error for ordinary
// shutdown; only a catastrophic epoll failure is returned.
func (r *Reactor) Run(sd *shutdown.Flag) error {
	timeoutMs := int(r.cfg.EpollWaitTimeout() / time.Millisecond)
	if timeoutMs <= 0 {
		timeoutMs = 1000
	}

	for {
		if sd.Requested() {
			r.drainAndShutdown()
			return nil
		}

		events, err := r.poller.Wait(r.events, timeoutMs)
		if err != nil {
			r.log.WithError(err).Error("reactor: catastrophic epoll_wait failure, shutting down")
			r.teardownAll(handler.ServerShutdown)
			return err
		}

		for _, ev := range events {
			if int(ev.Fd) == r.listenFd {
				if ev.Flags&epoll.Readable != 0 {
					r.acceptLoop()
				}
				continue
			}
			conn, ok := r.tbl.GetByFd(int(ev.Fd))
			if !ok {
				// A prior teardown earlier in this same batch already
				// removed it; nothing to do.
				continue
			}
			r.handleClientEvent(conn, ev.Flags)
		}
	}
}

// acceptLoop accepts every connection queued on the listener in one
// cycle, stopping on EAGAIN. This drains an accept storm in a single
// pass rather than one accept per epoll_wait cycle.
func (r *Reactor) acceptLoop() {
	for {
		fd, _, err := epoll.Accept4(r.listenFd)
		if err != nil {
			if epoll.IsWouldBlock(err) {
				return
			}
			r.log.WithError(err).Warn("reactor: accept error")
			return
		}

		id := r.tbl.NextID()
		peer := epoll.PeerAddr(fd)
		conn := connection.New(id, fd, peer, r.cfg.WriteQueueSoftLimitBytes)

		if err := r.poller.Add(fd, readWriteInterest); err != nil {
			r.log.WithError(err).Warn("reactor: epoll_ctl ADD failed for accepted socket")
			epoll.Close(fd)
			continue
		}
		r.tbl.Insert(conn)
		if r.metrics != nil {
			r.metrics.Connections.Inc()
			r.metrics.AcceptTotal.Inc()
		}

		if err := r.h.OnConnection(id, peer); err != nil {
			r.log.WithError(err).WithField("client_id", id).Info("reactor: OnConnection rejected connection")
			conn.MarkClosing(handler.HandlerRequested)
			conn.Discard()
			r.teardownNow(conn, handler.HandlerRequested)
			continue
		}
	}
}

// handleClientEvent applies one readiness event to conn in a fixed
// order: read, then write, then hangup/error. Reading before tearing
// down on a combined readable+hangup event ensures bytes already
// sitting in the socket buffer are delivered before the connection is
// destroyed.
func (r *Reactor) handleClientEvent(conn *connection.Connection, flags epoll.Flags) {
	if flags&epoll.Readable != 0 && !conn.Closing() {
		r.handleReadable(conn)
	}

	// handleReadable's callback chain can already have torn conn down
	// (e.g. a reply that failed to queue); its fd is closed and may
	// already be reused, so no further syscalls may target it.
	if conn.TornDown() {
		return
	}

	// A closing connection still drains best-effort, so this check does
	// not exclude conn.Closing().
	if flags&epoll.Writable != 0 || (!conn.QueueEmpty() && !conn.WantWritable()) {
		r.attemptDrain(conn)
	}

	if flags&(epoll.PeerHangup|epoll.Hangup|epoll.ErrFlag) != 0 {
		reason := handler.PeerClosed
		if flags&(epoll.Hangup|epoll.ErrFlag) != 0 {
			reason = handler.Error
		}
		conn.MarkClosing(reason)
	}

	r.maybeTeardown(conn)
}

// handleReadable runs the edge-triggered read loop and dispatches each
// framed message through the handler.
func (r *Reactor) handleReadable(conn *connection.Connection) {
	scratch := r.scratch.Get()
	defer r.scratch.Put(scratch)

	handlerFailed := false
	outcome, n, err := conn.TryRead(scratch, r.h.FrameLength, func(frame []byte) error {
		action, aerr := r.h.OnMessage(conn.ID, frame)
		if aerr != nil {
			handlerFailed = true
			return aerr
		}
		r.apply(conn, action)
		return nil
	})

	if n > 0 && r.metrics != nil {
		r.metrics.BytesIn.Add(float64(n))
	}

	switch outcome {
	case connection.ReadClosed:
		// conn was already torn down by a nested callback (see
		// connection.ReadClosed); nothing left to observe or act on.
		return
	case connection.ReadEOF:
		conn.MarkClosing(handler.PeerClosed)
	case connection.ReadErr:
		// An error returned by OnMessage closes the connection with
		// reason HandlerRequested; any other error TryRead reports is a
		// kernel I/O fault and closes it with reason Error.
		r.log.WithError(err).WithField("client_id", conn.ID).Info("reactor: read or handler error, closing")
		if handlerFailed {
			conn.MarkClosing(handler.HandlerRequested)
		} else {
			conn.MarkClosing(handler.Error)
		}
	case connection.ReadWouldBlock:
		// nothing to do; wait for next readiness event
	}
}

// apply dispatches one HandlerAction returned by a handler callback.
func (r *Reactor) apply(conn *connection.Connection, action handler.Action) {
	switch action.Kind {
	case handler.None:
		return
	case handler.Reply:
		r.enqueueAndDrain(conn, action.Payload)
	case handler.Broadcast:
		for _, id := range r.tbl.IDs() {
			if id == conn.ID {
				continue
			}
			other := r.tbl.Get(id)
			if other == nil || other.Closing() {
				continue
			}
			r.enqueueAndDrain(other, action.Payload)
		}
	case handler.Close:
		conn.MarkClosing(handler.HandlerRequested)
	case handler.ReplyClose:
		conn.MarkClosing(handler.HandlerRequested)
		r.enqueueAndDrain(conn, action.Payload)
	}
}

// enqueueAndDrain pushes b onto target's write queue and attempts an
// immediate drain. A soft-limit violation is treated as a fatal,
// immediate teardown of the recipient rather than a silently dropped
// write, so a stuck slow consumer can't grow memory unbounded.
func (r *Reactor) enqueueAndDrain(target *connection.Connection, b []byte) {
	if err := target.PushWrite(b); err != nil {
		r.log.WithError(err).WithField("client_id", target.ID).Warn("reactor: write queue soft limit exceeded, tearing down")
		target.Discard()
		target.MarkClosing(handler.Error)
		r.teardownNow(target, handler.Error)
		return
	}
	r.attemptDrain(target)
	r.maybeTeardown(target)
}

// attemptDrain runs TryDrain once and rearms or clears writable
// interest according to the outcome.
func (r *Reactor) attemptDrain(conn *connection.Connection) {
	outcome, n, err := conn.TryDrain()
	if n > 0 && r.metrics != nil {
		r.metrics.BytesOut.Add(float64(n))
	}
	if r.metrics != nil {
		r.metrics.WriteQueueBytes.Observe(float64(conn.QueuedBytes()))
	}

	switch outcome {
	case connection.DrainDone:
		if conn.WantWritable() {
			if merr := r.poller.Mod(conn.Fd, readWriteInterest); merr != nil {
				r.log.WithError(merr).Warn("reactor: epoll_mod to clear writable interest failed")
			}
			conn.SetWantWritable(false)
		}
	case connection.DrainWouldBlock:
		if !conn.WantWritable() {
			if merr := r.poller.Mod(conn.Fd, writableInterest); merr != nil {
				r.log.WithError(merr).Warn("reactor: epoll_mod to arm writable interest failed")
			}
			conn.SetWantWritable(true)
		}
	case connection.DrainErr:
		r.log.WithError(err).WithField("client_id", conn.ID).Info("reactor: write error, tearing down")
		conn.Discard()
		conn.MarkClosing(handler.Error)
	}
}

// maybeTeardown tears conn down if it is closing and its write queue
// has fully drained.
func (r *Reactor) maybeTeardown(conn *connection.Connection) {
	if conn.Closing() && conn.QueueEmpty() {
		r.teardownNow(conn, conn.Reason())
	}
}

// teardownNow performs the ordered teardown sequence: epoll_del, close,
// table removal, then the OnDisconnect callback. Idempotent: a
// connection already torn down (possibly from deeper in the same call
// stack, e.g. a write failure discovered while still inside the read
// callback that produced it) is left alone, so OnDisconnect fires
// exactly once and a reused fd is never closed a second time.
func (r *Reactor) teardownNow(conn *connection.Connection, reason handler.DisconnectReason) {
	if conn.MarkTornDown() {
		return
	}
	_ = r.poller.Del(conn.Fd)
	_ = epoll.Close(conn.Fd)
	r.tbl.Remove(conn.ID)
	if r.metrics != nil {
		r.metrics.Connections.Dec()
		r.metrics.TeardownTotal.WithLabelValues(reason.String()).Inc()
	}
	r.h.OnDisconnect(conn.ID, reason)
}

// teardownAll is used on a catastrophic epoll failure: every
// connection is torn down with reason ServerShutdown.
func (r *Reactor) teardownAll(reason handler.DisconnectReason) {
	for _, id := range r.tbl.IDs() {
		conn := r.tbl.Get(id)
		if conn == nil {
			continue
		}
		r.teardownNow(conn, reason)
	}
	_ = r.poller.Del(r.listenFd)
	_ = epoll.Close(r.listenFd)
	_ = r.poller.Close()
}

// drainAndShutdown runs the shutdown drain phase: stop accepting, mark
// every live connection closing, attempt a final drain within
// ShutdownDrainDeadlineMs, then tear everything down regardless of
// remaining queued bytes.
func (r *Reactor) drainAndShutdown() {
	r.log.Info("reactor: shutdown requested, draining connections")
	_ = r.poller.Del(r.listenFd)

	deadline := time.Now().Add(r.cfg.ShutdownDrainDeadline())
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	// Mark every connection closing, then immediately sweep: one with an
	// already-empty write queue (the common case — most connections are
	// idle between messages) tears down right here instead of sitting
	// until the wait loop below times out on an epoll event that will
	// never arrive for an fd with nothing left to do.
	for _, id := range r.tbl.IDs() {
		conn := r.tbl.Get(id)
		if conn == nil {
			continue
		}
		conn.MarkClosing(handler.ServerShutdown)
		r.maybeTeardown(conn)
	}

	for {
		remaining := r.tbl.IDs()
		if len(remaining) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			r.log.Warn("reactor: shutdown drain deadline exceeded, forcing teardown")
			for _, id := range remaining {
				if conn := r.tbl.Get(id); conn != nil {
					conn.Discard()
					r.teardownNow(conn, handler.ServerShutdown)
				}
			}
			r.finishShutdown()
			return
		default:
		}

		timeoutMs := int(time.Until(deadline) / time.Millisecond)
		if timeoutMs <= 0 {
			timeoutMs = 0
		}
		events, err := r.poller.Wait(r.events, timeoutMs)
		if err != nil {
			r.log.WithError(err).Error("reactor: epoll_wait failed during shutdown drain, forcing teardown")
			for _, id := range remaining {
				if conn := r.tbl.Get(id); conn != nil {
					conn.Discard()
					r.teardownNow(conn, handler.ServerShutdown)
				}
			}
			break
		}
		for _, ev := range events {
			conn, ok := r.tbl.GetByFd(int(ev.Fd))
			if !ok {
				continue
			}
			if ev.Flags&(epoll.Writable) != 0 || !conn.QueueEmpty() {
				r.attemptDrain(conn)
			}
			r.maybeTeardown(conn)
		}
	}
	r.finishShutdown()
}

func (r *Reactor) finishShutdown() {
	_ = epoll.Close(r.listenFd)
	_ = r.poller.Close()
	r.log.Info("reactor: shutdown complete")
}

// Connections reports the current live connection count, chiefly for
// tests and status reporting.
func (r *Reactor) Connections() int { return r.tbl.Len() }

// ListenAddr reports the listener's bound local address, including the
// kernel-assigned port when the configured address used port 0.
func (r *Reactor) ListenAddr() string { return epoll.LocalAddr(r.listenFd) }
