package client

import "sync"

// roomSet tracks the rooms the application wants to be in, independent of
// connection state. The desired set is the source of truth: the gateway's
// in-memory membership evaporates on disconnect, so after every reconnect
// the client replays a join for each desired room.
type roomSet struct {
	mu      sync.Mutex
	desired map[string]struct{}
}

func newRoomSet() *roomSet {
	return &roomSet{desired: make(map[string]struct{})}
}

// add records the desire to be in a room. It reports whether the set changed.
func (r *roomSet) add(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desired[roomID]; ok {
		return false
	}
	r.desired[roomID] = struct{}{}
	return true
}

// remove drops a room from the desired set. It reports whether the set
// changed.
func (r *roomSet) remove(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.desired[roomID]; !ok {
		return false
	}
	delete(r.desired, roomID)
	return true
}

// snapshot returns the desired rooms.
func (r *roomSet) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.desired))
	for roomID := range r.desired {
		out = append(out, roomID)
	}
	return out
}
