package gateway

import (
	"net"
	"sync"

	"github.com/parley/chat-platform/internal/metrics"
)

// Registry is the thread-safe connection and room membership registry. It
// maps connection IDs and network connections to Connection objects and
// tracks which rooms each connection has joined. All state is in-memory: it
// survives individual event handling but not process restarts — clients
// rebuild membership by replaying joins after reconnect.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
	rooms  map[string]map[string]*Connection // roomID -> connID -> conn
	joined map[string]map[string]struct{}    // connID -> set of roomIDs
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
		rooms:  make(map[string]map[string]*Connection),
		joined: make(map[string]map[string]struct{}),
	}
}

// Add registers a new connection.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byConn[conn.Conn] = conn
	r.mu.Unlock()
}

// Remove removes a connection, closes it, and clears its room memberships.
// It returns the rooms that became empty of local members, and whether the
// connection was present at all (false when another goroutine already
// removed it, e.g. read error racing heartbeat cleanup).
func (r *Registry) Remove(id string) (emptied []string, ok bool) {
	r.mu.Lock()
	conn, present := r.byID[id]
	if present {
		delete(r.byID, id)
		delete(r.byConn, conn.Conn)
		for roomID := range r.joined[id] {
			if members := r.rooms[roomID]; members != nil {
				delete(members, id)
				if len(members) == 0 {
					delete(r.rooms, roomID)
					emptied = append(emptied, roomID)
				}
			}
		}
		delete(r.joined, id)
		metrics.RoomsActive.Set(float64(len(r.rooms)))
	}
	r.mu.Unlock()

	if present {
		conn.Close()
	}
	return emptied, present
}

// Get returns the connection for the given ID, or nil if not found.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the Connection wrapping the given net.Conn, or nil.
func (r *Registry) GetByConn(c net.Conn) *Connection {
	r.mu.RLock()
	conn := r.byConn[c]
	r.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// JoinRoom adds a connection to a room. Joining an already-joined room is a
// no-op. The first return value reports whether this join made the room
// non-empty on this node (the caller then subscribes to the room's fan-out
// subject); ok is false when the connection is no longer registered.
func (r *Registry) JoinRoom(connID, roomID string) (first bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, present := r.byID[connID]
	if !present {
		return false, false
	}
	if _, already := r.joined[connID][roomID]; already {
		return false, true
	}

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
		first = true
	}
	members[connID] = conn

	if r.joined[connID] == nil {
		r.joined[connID] = make(map[string]struct{})
	}
	r.joined[connID][roomID] = struct{}{}

	metrics.RoomsActive.Set(float64(len(r.rooms)))
	return first, true
}

// LeaveRoom removes a connection from a room. Leaving a room the connection
// is not in is a no-op. The return value reports whether the room now has no
// local members (the caller then unsubscribes from its fan-out subject).
func (r *Registry) LeaveRoom(connID, roomID string) (emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, member := r.joined[connID][roomID]; !member {
		return false
	}
	delete(r.joined[connID], roomID)

	members := r.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		emptied = true
	}

	metrics.RoomsActive.Set(float64(len(r.rooms)))
	return emptied
}

// Rooms returns a snapshot of the rooms the connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[connID]))
	for roomID := range r.joined[connID] {
		out = append(out, roomID)
	}
	return out
}

// RoomMembers returns a snapshot of the connections currently in a room.
func (r *Registry) RoomMembers(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]*Connection, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// RoomCount returns the number of rooms with at least one local member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	n := len(r.rooms)
	r.mu.RUnlock()
	return n
}

// Publish delivers an event to every connection currently in the room,
// at most once per connection per call. Delivery is best-effort through each
// member's outbound queue: a slow or dying member never blocks delivery to
// the others, and droppable events may be evicted under pressure.
func (r *Registry) Publish(roomID string, data []byte, droppable bool) {
	for _, conn := range r.RoomMembers(roomID) {
		conn.Enqueue(data, droppable)
	}
}

// All returns a snapshot of all current connections.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		out = append(out, conn)
	}
	r.mu.RUnlock()
	return out
}
