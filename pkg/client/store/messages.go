// Package store holds the client-side state containers fed by gateway
// events: message lists, typing indicators, bot response streams, and voice
// rosters. Containers are goroutine-safe so UI code and the SDK read loop
// can share them.
package store

import (
	"sort"
	"sync"

	"github.com/parley/chat-platform/internal/protocol"
)

// MessageStore holds the locally known messages of one channel, ordered by
// creation time. Live events and history pages both land here; duplicates
// (a message seen live and again in a fetched page) collapse by id.
type MessageStore struct {
	mu       sync.Mutex
	messages []protocol.Message
	byID     map[string]struct{}
}

// NewMessageStore creates an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]struct{})}
}

// SetMessages replaces the store's contents with a fetched page, e.g. after
// a reconnect reconciliation. The page is sorted on insert.
func (s *MessageStore) SetMessages(msgs []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.byID = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		s.byID[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	s.sortLocked()
}

// AddMessage inserts one live message. A message already present by id is
// ignored, so replaying history over live traffic cannot duplicate. It
// reports whether the message was new.
func (s *MessageStore) AddMessage(m protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[m.ID]; dup {
		return false
	}
	s.byID[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	s.sortLocked()
	return true
}

// PrependMessages merges an older history page ("load earlier messages")
// into the store. Duplicates are dropped; ordering is restored by sort.
func (s *MessageStore) PrependMessages(msgs []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		s.byID[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
	s.sortLocked()
}

// Messages returns a snapshot of the messages in chronological order.
func (s *MessageStore) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.messages...)
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear empties the store.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byID = make(map[string]struct{})
}

// sortLocked restores chronological order. The sort is stable so messages
// with equal timestamps keep their arrival order. Caller holds mu.
func (s *MessageStore) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt < s.messages[j].CreatedAt
	})
}
