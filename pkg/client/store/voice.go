package store

import (
	"sort"
	"sync"
)

// Participant is one member of a voice room as the client sees them.
type Participant struct {
	UserID   string
	Name     string
	Avatar   string
	Muted    bool
	Speaking bool
}

// VoiceRoster tracks the participants of one voice room. Speaking state is
// derived exclusively from the most recent active-speaker set, so a stale
// speaking flag cannot survive the next signal.
type VoiceRoster struct {
	mu           sync.Mutex
	participants map[string]*Participant
}

// NewVoiceRoster creates an empty roster.
func NewVoiceRoster() *VoiceRoster {
	return &VoiceRoster{participants: make(map[string]*Participant)}
}

// Add registers a participant. Adding an already-present user id keeps the
// existing entry (join events may be replayed after a reconnect).
func (r *VoiceRoster) Add(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.UserID]; ok {
		return
	}
	entry := p
	r.participants[p.UserID] = &entry
}

// Update merges the non-empty profile fields of p into an existing
// participant. Updating an absent user id is a no-op: a profile update is
// not evidence of membership.
func (r *VoiceRoster) Update(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.participants[p.UserID]
	if !ok {
		return false
	}
	if p.Name != "" {
		existing.Name = p.Name
	}
	if p.Avatar != "" {
		existing.Avatar = p.Avatar
	}
	return true
}

// SetMuted updates a participant's mute flag. Unknown participants are
// ignored; a mute signal is not evidence of membership.
func (r *VoiceRoster) SetMuted(userID string, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return false
	}
	p.Muted = muted
	return true
}

// Remove drops a participant. Removing an absent user is a no-op.
func (r *VoiceRoster) Remove(userID string) {
	r.mu.Lock()
	delete(r.participants, userID)
	r.mu.Unlock()
}

// SetActiveSpeakers replaces the speaking state of the whole roster from
// the given set: listed present participants become speaking, everyone else
// stops. Unknown ids in the set are ignored.
func (r *VoiceRoster) SetActiveSpeakers(userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		active[id] = struct{}{}
	}
	for id, p := range r.participants {
		_, speaking := active[id]
		p.Speaking = speaking
	}
}

// Participants returns a snapshot of the roster sorted by user id for
// stable rendering.
func (r *VoiceRoster) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Get returns one participant by user id.
func (r *VoiceRoster) Get(userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Reset empties the roster, e.g. on leaving the voice room or reconnecting.
func (r *VoiceRoster) Reset() {
	r.mu.Lock()
	r.participants = make(map[string]*Participant)
	r.mu.Unlock()
}
