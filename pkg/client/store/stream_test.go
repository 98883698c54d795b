package store

import "testing"

func TestStreamTracker_AccumulatesChunks(t *testing.T) {
	tr := NewStreamTracker()

	tr.Start("s1", "bot_1", "ch_1")
	tr.AppendChunk("s1", "Hello ")
	tr.AppendChunk("s1", "world")

	content, ok := tr.End("s1")
	if !ok {
		t.Fatal("End reported unknown stream")
	}
	if content != "Hello world" {
		t.Errorf("content = %q", content)
	}
}

func TestStreamTracker_ChunkForUnknownStreamIgnored(t *testing.T) {
	tr := NewStreamTracker()

	if tr.AppendChunk("ghost", "data") {
		t.Error("chunk applied to unknown stream")
	}
	if _, ok := tr.Get("ghost"); ok {
		t.Error("unknown stream materialized from a chunk")
	}
}

func TestStreamTracker_EndUnknownStream(t *testing.T) {
	tr := NewStreamTracker()
	if _, ok := tr.End("ghost"); ok {
		t.Error("End reported ok for unknown stream")
	}
}

func TestStreamTracker_EndDeletesStream(t *testing.T) {
	tr := NewStreamTracker()
	tr.Start("s1", "bot_1", "ch_1")
	tr.AppendChunk("s1", "final")
	tr.End("s1")

	if _, ok := tr.Get("s1"); ok {
		t.Error("stream still present after End")
	}
	// A chunk racing past the end is dropped, not resurrected.
	if tr.AppendChunk("s1", " extra") {
		t.Error("chunk applied after End")
	}
}

func TestStreamTracker_RestartResetsContent(t *testing.T) {
	tr := NewStreamTracker()
	tr.Start("s1", "bot_1", "ch_1")
	tr.AppendChunk("s1", "old")

	tr.Start("s1", "bot_1", "ch_1")
	tr.AppendChunk("s1", "new")

	content, _ := tr.End("s1")
	if content != "new" {
		t.Errorf("content = %q, want new", content)
	}
}

func TestStreamTracker_ConcurrentStreamsAreIndependent(t *testing.T) {
	tr := NewStreamTracker()
	tr.Start("s1", "bot_1", "ch_1")
	tr.Start("s2", "bot_2", "ch_1")

	tr.AppendChunk("s1", "one")
	tr.AppendChunk("s2", "two")

	if content, _ := tr.End("s1"); content != "one" {
		t.Errorf("s1 content = %q", content)
	}
	if content, _ := tr.End("s2"); content != "two" {
		t.Errorf("s2 content = %q", content)
	}
}

func TestStreamTracker_GetSnapshotsInProgress(t *testing.T) {
	tr := NewStreamTracker()
	tr.Start("s1", "bot_1", "ch_1")
	tr.AppendChunk("s1", "partial")

	stream, ok := tr.Get("s1")
	if !ok {
		t.Fatal("Get reported unknown stream")
	}
	if stream.BotID != "bot_1" || stream.ChannelID != "ch_1" || stream.Content != "partial" {
		t.Errorf("stream = %+v", stream)
	}
}

func TestStreamTracker_Reset(t *testing.T) {
	tr := NewStreamTracker()
	tr.Start("s1", "bot_1", "ch_1")
	tr.Reset()

	if _, ok := tr.Get("s1"); ok {
		t.Error("stream survived Reset")
	}
}
