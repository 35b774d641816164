// Package handler defines the capability set an application implements
// to plug into the reactor, and the tagged action values the reactor
// interprets after each framed message.
package handler

// DisconnectReason classifies why a connection's lifetime ended.
type DisconnectReason int

const (
	// PeerClosed means the remote end closed its side (zero-byte read
	// or EPOLLRDHUP).
	PeerClosed DisconnectReason = iota
	// Error means a fatal I/O error occurred (ECONNRESET, EPIPE, ...,
	// or an EPOLLHUP/EPOLLERR readiness event).
	Error
	// HandlerRequested means the application returned HandlerAction.Close
	// or an OnConnection/OnMessage callback returned an error.
	HandlerRequested
	// ServerShutdown means the reactor is tearing every connection down
	// as part of a cooperative shutdown.
	ServerShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case PeerClosed:
		return "peer_closed"
	case Error:
		return "error"
	case HandlerRequested:
		return "handler_requested"
	case ServerShutdown:
		return "server_shutdown"
	default:
		return "unknown"
	}
}

// ActionKind tags the variant carried by an Action.
type ActionKind int

const (
	// None: do nothing.
	None ActionKind = iota
	// Reply: enqueue Payload to the originating connection.
	Reply
	// Broadcast: enqueue Payload to every other connection in the table.
	Broadcast
	// Close: initiate orderly teardown of the originating connection
	// once its write queue drains.
	Close
	// ReplyClose: enqueue Payload to the originating connection, then
	// initiate orderly teardown once it drains. For protocols with no
	// keep-alive, where a reply is always the connection's last act.
	ReplyClose
)

// Action is the tagged variant an EventHandler returns from OnMessage.
type Action struct {
	Kind    ActionKind
	Payload []byte
}

// NoAction performs no effect.
func NoAction() Action { return Action{Kind: None} }

// ReplyWith enqueues b to the sender.
func ReplyWith(b []byte) Action { return Action{Kind: Reply, Payload: b} }

// BroadcastWith enqueues b to every other connection.
func BroadcastWith(b []byte) Action { return Action{Kind: Broadcast, Payload: b} }

// CloseConn initiates teardown of the sender after its writes drain.
func CloseConn() Action { return Action{Kind: Close} }

// ReplyThenClose enqueues b to the sender and tears the connection
// down once b (and anything already queued ahead of it) has drained.
func ReplyThenClose(b []byte) Action { return Action{Kind: ReplyClose, Payload: b} }

// EventHandler is the capability set the application implements. It is
// invoked from a single execution context (the reactor's) and must
// never block: no syscalls that can stall, no unbounded CPU loops.
type EventHandler interface {
	// OnConnection fires once, after accept and table insertion, before
	// any I/O on the client. Returning an error aborts the connection
	// with DisconnectReason HandlerRequested.
	OnConnection(id uint64, peerAddr string) error

	// FrameLength inspects the accumulated, unframed bytes in buf and
	// returns the length of one complete message at its head, or 0 if
	// no complete message is present yet. It must not mutate buf.
	// Returning a length rather than a completeness bool lets the
	// reactor deliver exactly one message's worth of bytes per call,
	// including when several pipelined messages arrive in a single
	// read.
	FrameLength(buf []byte) int

	// OnMessage processes one framed message and returns the action the
	// reactor should take.
	OnMessage(id uint64, b []byte) (Action, error)

	// OnDisconnect fires exactly once per connection lifetime, during
	// table removal.
	OnDisconnect(id uint64, reason DisconnectReason)

	// HandlerAPIVersion identifies the handler's expected framework API
	// version as a semver string (e.g. "1.0.0"), checked by the reactor
	// at startup against the versions it supports.
	HandlerAPIVersion() string
}
