package store

import (
	"testing"

	"github.com/parley/chat-platform/internal/protocol"
)

func msg(id string, at int64) protocol.Message {
	return protocol.Message{ID: id, ChannelID: "ch_1", Content: "m-" + id, CreatedAt: at}
}

func assertOrder(t *testing.T, s *MessageStore, want ...string) {
	t.Helper()
	got := s.Messages()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("[%d] = %s, want %s (full: %v)", i, got[i].ID, want[i], ids(got))
		}
	}
}

func ids(msgs []protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMessageStore_AddKeepsChronologicalOrder(t *testing.T) {
	s := NewMessageStore()

	s.AddMessage(msg("b", 200))
	s.AddMessage(msg("a", 100))
	s.AddMessage(msg("c", 300))

	assertOrder(t, s, "a", "b", "c")
}

func TestMessageStore_AddDeduplicatesByID(t *testing.T) {
	s := NewMessageStore()

	if !s.AddMessage(msg("a", 100)) {
		t.Fatal("first add reported duplicate")
	}
	if s.AddMessage(msg("a", 100)) {
		t.Error("duplicate add reported new")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMessageStore_SetMessagesReplaces(t *testing.T) {
	s := NewMessageStore()
	s.AddMessage(msg("old", 50))

	s.SetMessages([]protocol.Message{msg("b", 200), msg("a", 100)})

	assertOrder(t, s, "a", "b")

	// The replaced message is gone, so re-adding it works.
	if !s.AddMessage(msg("old", 50)) {
		t.Error("message from before SetMessages still counted as duplicate")
	}
}

func TestMessageStore_PrependOlderPage(t *testing.T) {
	s := NewMessageStore()
	s.SetMessages([]protocol.Message{msg("c", 300), msg("d", 400)})

	s.PrependMessages([]protocol.Message{msg("a", 100), msg("b", 200)})

	assertOrder(t, s, "a", "b", "c", "d")
}

func TestMessageStore_ReconciliationOverlapCollapses(t *testing.T) {
	// A message delivered live and then again in a fetched history page
	// must appear once.
	s := NewMessageStore()
	s.AddMessage(msg("live", 300))

	s.PrependMessages([]protocol.Message{msg("a", 100), msg("live", 300)})

	assertOrder(t, s, "a", "live")
}

func TestMessageStore_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	s := NewMessageStore()

	s.AddMessage(msg("first", 100))
	s.AddMessage(msg("second", 100))
	s.AddMessage(msg("third", 100))

	assertOrder(t, s, "first", "second", "third")
}

func TestMessageStore_Clear(t *testing.T) {
	s := NewMessageStore()
	s.AddMessage(msg("a", 100))

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", s.Len())
	}
	if !s.AddMessage(msg("a", 100)) {
		t.Error("id still known after Clear")
	}
}
