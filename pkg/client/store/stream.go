package store

import (
	"strings"
	"sync"
)

// Stream is one in-progress bot response stream.
type Stream struct {
	ID        string
	BotID     string
	ChannelID string
	Content   string
}

// StreamTracker accumulates incremental bot responses. Chunks for a stream
// that was never started or already ended (out-of-order races, a start seen
// before this client joined the room) are dropped rather than invented into
// a partial stream. A missing stream id means "not currently streaming",
// never an error.
type StreamTracker struct {
	mu      sync.Mutex
	streams map[string]*streamState
}

type streamState struct {
	botID     string
	channelID string
	builder   strings.Builder
}

// NewStreamTracker creates an empty tracker.
func NewStreamTracker() *StreamTracker {
	return &StreamTracker{streams: make(map[string]*streamState)}
}

// Start opens a stream with empty content. Restarting a known stream id
// resets it.
func (t *StreamTracker) Start(streamID, botID, channelID string) {
	t.mu.Lock()
	t.streams[streamID] = &streamState{botID: botID, channelID: channelID}
	t.mu.Unlock()
}

// AppendChunk appends content to an open stream in arrival order. Unknown
// streams are ignored; it reports whether the chunk was applied.
func (t *StreamTracker) AppendChunk(streamID, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.streams[streamID]
	if state == nil {
		return false
	}
	state.builder.WriteString(content)
	return true
}

// End deletes the stream and returns its final content, typically promoted
// into the channel's MessageStore. Ending an unknown stream reports ok
// false.
func (t *StreamTracker) End(streamID string) (content string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.streams[streamID]
	if state == nil {
		return "", false
	}
	delete(t.streams, streamID)
	return state.builder.String(), true
}

// Get returns a snapshot of an in-progress stream, or ok false for an
// unknown id.
func (t *StreamTracker) Get(streamID string) (Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.streams[streamID]
	if state == nil {
		return Stream{}, false
	}
	return Stream{
		ID:        streamID,
		BotID:     state.botID,
		ChannelID: state.channelID,
		Content:   state.builder.String(),
	}, true
}

// Reset drops all streams, e.g. on leaving the channel view.
func (t *StreamTracker) Reset() {
	t.mu.Lock()
	t.streams = make(map[string]*streamState)
	t.mu.Unlock()
}
