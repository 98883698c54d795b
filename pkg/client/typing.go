package client

import (
	"sync"
	"time"
)

// Typing debounce parameters. A typing start is refreshed at most once per
// refresh interval while input continues, and a stop goes out after the
// input falls silent.
const (
	typingRefresh = 3 * time.Second
	typingSilence = 3 * time.Second
)

// typingNotifier turns a stream of per-keystroke input calls into a sparse
// stream of typing start/stop signals. One notifier serves all channels.
type typingNotifier struct {
	send    func(channelID string, isTyping bool)
	refresh time.Duration
	silence time.Duration

	mu       sync.Mutex
	channels map[string]*typingState
	closed   bool
}

type typingState struct {
	lastSent time.Time
	timer    *time.Timer
}

func newTypingNotifier(send func(channelID string, isTyping bool)) *typingNotifier {
	return &typingNotifier{
		send:     send,
		refresh:  typingRefresh,
		silence:  typingSilence,
		channels: make(map[string]*typingState),
	}
}

// input records one unit of typing activity. The first call for a channel
// sends a typing start; further calls only refresh it after the refresh
// interval, so hammering the keyboard produces one event per interval. Each
// call pushes the silence deadline out.
func (n *typingNotifier) input(channelID string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}

	state := n.channels[channelID]
	start := false
	now := time.Now()

	if state == nil {
		state = &typingState{}
		n.channels[channelID] = state
		start = true
	} else if now.Sub(state.lastSent) >= n.refresh {
		start = true
	}

	if start {
		state.lastSent = now
	}

	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(n.silence, func() { n.silenceElapsed(channelID) })
	n.mu.Unlock()

	if start {
		n.send(channelID, true)
	}
}

// stop ends typing in a channel immediately, e.g. when the message is sent.
// Stopping a channel with no active typing is a no-op.
func (n *typingNotifier) stop(channelID string) {
	n.mu.Lock()
	state := n.channels[channelID]
	if state == nil {
		n.mu.Unlock()
		return
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	delete(n.channels, channelID)
	n.mu.Unlock()

	n.send(channelID, false)
}

// silenceElapsed fires from the silence timer.
func (n *typingNotifier) silenceElapsed(channelID string) {
	n.mu.Lock()
	if n.closed || n.channels[channelID] == nil {
		n.mu.Unlock()
		return
	}
	delete(n.channels, channelID)
	n.mu.Unlock()

	n.send(channelID, false)
}

// shutdown cancels all pending timers without emitting stops; the connection
// is going away and the gateway's typing fan-out expires on its own.
func (n *typingNotifier) shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for _, state := range n.channels {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
	n.channels = make(map[string]*typingState)
}
