package client

import (
	"sync"
	"testing"
	"time"
)

type typingEvent struct {
	channelID string
	isTyping  bool
}

// typingRecorder collects emitted typing signals.
type typingRecorder struct {
	mu     sync.Mutex
	events []typingEvent
}

func (r *typingRecorder) record(channelID string, isTyping bool) {
	r.mu.Lock()
	r.events = append(r.events, typingEvent{channelID, isTyping})
	r.mu.Unlock()
}

func (r *typingRecorder) snapshot() []typingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]typingEvent(nil), r.events...)
}

func newTestNotifier(refresh, silence time.Duration) (*typingNotifier, *typingRecorder) {
	rec := &typingRecorder{}
	n := newTypingNotifier(rec.record)
	n.refresh = refresh
	n.silence = silence
	return n, rec
}

func TestTypingNotifier_FirstInputEmitsStart(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, time.Hour)
	defer n.shutdown()

	n.input("ch_1")

	events := rec.snapshot()
	if len(events) != 1 || !events[0].isTyping || events[0].channelID != "ch_1" {
		t.Fatalf("events = %v, want one start for ch_1", events)
	}
}

func TestTypingNotifier_DebouncesRepeatedInput(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, time.Hour)
	defer n.shutdown()

	for i := 0; i < 50; i++ {
		n.input("ch_1")
	}

	if events := rec.snapshot(); len(events) != 1 {
		t.Errorf("got %d events for 50 keystrokes, want 1", len(events))
	}
}

func TestTypingNotifier_RefreshesAfterInterval(t *testing.T) {
	n, rec := newTestNotifier(30*time.Millisecond, time.Hour)
	defer n.shutdown()

	n.input("ch_1")
	time.Sleep(50 * time.Millisecond)
	n.input("ch_1")

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (start + refresh)", len(events))
	}
	if !events[0].isTyping || !events[1].isTyping {
		t.Errorf("events = %v, want two starts", events)
	}
}

func TestTypingNotifier_StopAfterSilence(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, 30*time.Millisecond)
	defer n.shutdown()

	n.input("ch_1")

	deadline := time.Now().Add(time.Second)
	for {
		events := rec.snapshot()
		if len(events) == 2 {
			if events[1].isTyping {
				t.Fatalf("second event = %v, want stop", events[1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no stop after silence; events = %v", events)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTypingNotifier_InputExtendsSilence(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, 60*time.Millisecond)
	defer n.shutdown()

	n.input("ch_1")
	// Keep typing faster than the silence window.
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		n.input("ch_1")
	}

	for _, ev := range rec.snapshot() {
		if !ev.isTyping {
			t.Fatal("stop emitted while input was continuous")
		}
	}
}

func TestTypingNotifier_ExplicitStop(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, time.Hour)
	defer n.shutdown()

	n.input("ch_1")
	n.stop("ch_1")

	events := rec.snapshot()
	if len(events) != 2 || events[1].isTyping {
		t.Fatalf("events = %v, want start then stop", events)
	}

	// Stop without active typing is a no-op.
	n.stop("ch_1")
	if len(rec.snapshot()) != 2 {
		t.Error("redundant stop emitted an event")
	}

	// Typing again after a stop starts fresh.
	n.input("ch_1")
	events = rec.snapshot()
	if len(events) != 3 || !events[2].isTyping {
		t.Fatalf("events = %v, want a new start", events)
	}
}

func TestTypingNotifier_ChannelsAreIndependent(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, time.Hour)
	defer n.shutdown()

	n.input("ch_1")
	n.input("ch_2")
	n.stop("ch_1")

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("events = %v", events)
	}
	if events[2].channelID != "ch_1" || events[2].isTyping {
		t.Errorf("stop = %v, want stop for ch_1", events[2])
	}
}

func TestTypingNotifier_ShutdownSilences(t *testing.T) {
	n, rec := newTestNotifier(time.Hour, 20*time.Millisecond)

	n.input("ch_1")
	n.shutdown()
	time.Sleep(60 * time.Millisecond)

	for _, ev := range rec.snapshot() {
		if !ev.isTyping {
			t.Error("stop emitted after shutdown")
		}
	}

	n.input("ch_2")
	if len(rec.snapshot()) != 1 {
		t.Error("input accepted after shutdown")
	}
}
