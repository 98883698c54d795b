package store

import (
	"sort"
	"testing"
	"time"
)

func TestTypingTracker_SetAndClear(t *testing.T) {
	tr := NewTypingTracker()

	tr.Set("ch_1", "alice", true)
	tr.Set("ch_1", "bob", true)

	typing := tr.Typing("ch_1")
	sort.Strings(typing)
	if len(typing) != 2 || typing[0] != "alice" || typing[1] != "bob" {
		t.Fatalf("Typing = %v", typing)
	}

	tr.Set("ch_1", "alice", false)
	typing = tr.Typing("ch_1")
	if len(typing) != 1 || typing[0] != "bob" {
		t.Errorf("Typing after stop = %v, want [bob]", typing)
	}
}

func TestTypingTracker_StopForUnknownUserIsNoop(t *testing.T) {
	tr := NewTypingTracker()
	tr.Set("ch_1", "ghost", false)
	if typing := tr.Typing("ch_1"); typing != nil {
		t.Errorf("Typing = %v, want nil", typing)
	}
}

func TestTypingTracker_ChannelsAreIndependent(t *testing.T) {
	tr := NewTypingTracker()
	tr.Set("ch_1", "alice", true)

	if typing := tr.Typing("ch_2"); typing != nil {
		t.Errorf("Typing(ch_2) = %v, want nil", typing)
	}
}

func TestTypingTracker_EntriesExpire(t *testing.T) {
	tr := NewTypingTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.Set("ch_1", "alice", true)

	// A lost stop event: the indicator must still expire.
	now = now.Add(TypingTTL + time.Second)
	if typing := tr.Typing("ch_1"); typing != nil {
		t.Errorf("Typing = %v after TTL, want nil", typing)
	}
}

func TestTypingTracker_RefreshExtendsLifetime(t *testing.T) {
	tr := NewTypingTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.Set("ch_1", "alice", true)
	now = now.Add(TypingTTL - time.Second)
	tr.Set("ch_1", "alice", true) // refresh
	now = now.Add(TypingTTL - time.Second)

	if typing := tr.Typing("ch_1"); len(typing) != 1 {
		t.Errorf("Typing = %v, want [alice] after refresh", typing)
	}
}

func TestTypingTracker_ClearChannel(t *testing.T) {
	tr := NewTypingTracker()
	tr.Set("ch_1", "alice", true)
	tr.Clear("ch_1")
	if typing := tr.Typing("ch_1"); typing != nil {
		t.Errorf("Typing = %v after Clear, want nil", typing)
	}
}
