// Package table implements the connection table: a client_id -> *Connection
// map with a monotonically increasing, never-reused id allocator. The
// reactor is single-threaded and is the table's sole owner, so no
// locking is needed.
package table

import "github.com/bp7968h/epoll-reactor/internal/connection"

// FirstClientID is the first id handed out to a client connection.
// The reactor recognises the listener by its fd rather than by an id,
// so ids below this value are simply never issued.
const FirstClientID uint64 = 1024

// Table is the connection table.
type Table struct {
	conns  map[uint64]*connection.Connection
	fdToID map[int]uint64
	nextID uint64
}

// New creates an empty table.
func New() *Table {
	return &Table{
		conns:  make(map[uint64]*connection.Connection),
		fdToID: make(map[int]uint64),
		nextID: FirstClientID,
	}
}

// NextID allocates the next monotonically increasing client id without
// inserting anything. Ids are never reused for the process lifetime.
func (t *Table) NextID() uint64 {
	id := t.nextID
	t.nextID++
	return id
}

// Insert adds conn to the table, indexed by both its id and its fd.
func (t *Table) Insert(conn *connection.Connection) {
	t.conns[conn.ID] = conn
	t.fdToID[conn.Fd] = conn.ID
}

// Get returns the connection for id, or nil if absent (e.g. a prior
// teardown already removed it within the same readiness batch).
func (t *Table) Get(id uint64) *connection.Connection {
	return t.conns[id]
}

// GetByFd resolves a kernel fd reported by epoll_wait back to the
// connection registered under it, via the fd-to-id index.
func (t *Table) GetByFd(fd int) (*connection.Connection, bool) {
	id, ok := t.fdToID[fd]
	if !ok {
		return nil, false
	}
	return t.conns[id], true
}

// Remove deletes id from the table and returns the removed connection,
// or nil if it was already absent.
func (t *Table) Remove(id uint64) *connection.Connection {
	conn, ok := t.conns[id]
	if !ok {
		return nil
	}
	delete(t.conns, id)
	delete(t.fdToID, conn.Fd)
	return conn
}

// Len returns the number of live connections.
func (t *Table) Len() int { return len(t.conns) }

// IterIDs calls fn for every live client id. fn must not mutate the
// table; collect ids first if deletions are needed during iteration
// (as the reactor's broadcast dispatch does).
func (t *Table) IterIDs(fn func(id uint64)) {
	for id := range t.conns {
		fn(id)
	}
}

// IDs returns a snapshot slice of all live client ids, safe to range
// over while mutating the table (e.g. broadcasting, which may cause
// teardown of any of them mid-iteration).
func (t *Table) IDs() []uint64 {
	ids := make([]uint64, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	return ids
}
