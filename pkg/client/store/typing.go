package store

import (
	"sync"
	"time"
)

// TypingTTL is how long a typing indicator stays visible without a refresh.
// Typing signals are droppable on the wire, so a lost stop event must not
// leave a user "typing" forever.
const TypingTTL = 6 * time.Second

// TypingTracker tracks who is typing in each channel. Entries expire on
// read after TypingTTL, so the tracker self-heals from dropped stop events.
type TypingTracker struct {
	mu       sync.Mutex
	channels map[string]map[string]time.Time // channelID -> userID -> last signal
	now      func() time.Time
}

// NewTypingTracker creates an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		channels: make(map[string]map[string]time.Time),
		now:      time.Now,
	}
}

// Set records a typing signal: isTyping true marks the user typing now,
// false clears the indicator immediately.
func (t *TypingTracker) Set(channelID, userID string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.channels[channelID]
	if !isTyping {
		if users != nil {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.channels, channelID)
			}
		}
		return
	}

	if users == nil {
		users = make(map[string]time.Time)
		t.channels[channelID] = users
	}
	users[userID] = t.now()
}

// Typing returns the users currently typing in a channel, dropping entries
// older than TypingTTL.
func (t *TypingTracker) Typing(channelID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.channels[channelID]
	if len(users) == 0 {
		return nil
	}

	cutoff := t.now().Add(-TypingTTL)
	out := make([]string, 0, len(users))
	for userID, last := range users {
		if last.Before(cutoff) {
			delete(users, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(users) == 0 {
		delete(t.channels, channelID)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clear drops all indicators for a channel, e.g. when leaving it.
func (t *TypingTracker) Clear(channelID string) {
	t.mu.Lock()
	delete(t.channels, channelID)
	t.mu.Unlock()
}
