// Package client is the Go client SDK for the Parley realtime gateway. It
// connects using gobwas/ws (the same library the gateway uses), dispatches
// incoming events to registered handlers, replays room membership after a
// reconnect, and debounces outgoing typing signals.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/parley/chat-platform/internal/protocol"
)

// Dialer opens the underlying connection. The default dials Options.URL with
// gobwas/ws; tests substitute an in-memory pipe.
type Dialer func(ctx context.Context) (net.Conn, error)

// Options configures a Client.
type Options struct {
	URL   string // WebSocket URL, e.g. ws://localhost:8080/ws
	Token string // connection token, appended as the token query parameter

	// Dial overrides the connection factory. When nil, the client dials URL
	// (with Token attached) using gobwas/ws.
	Dial Dialer

	// Reconnect backoff. Zero values pick the defaults below.
	ReconnectMin time.Duration // initial backoff (default 250ms)
	ReconnectMax time.Duration // backoff ceiling (default 15s)

	// HeartbeatInterval is how often the client sends application heartbeats
	// while connected. Zero disables them (tests).
	HeartbeatInterval time.Duration
}

// Client is a gateway connection with automatic reconnection. All methods are
// goroutine-safe. Event handlers run on the read-loop goroutine and should
// not block.
type Client struct {
	opts Options

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	connID    string
	handlers  map[string]func(json.RawMessage)
	onConnect func()

	writeMu sync.Mutex // held across whole frames so writers never interleave

	rooms  *roomSet
	typing *typingNotifier

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Client and starts its connection loop. The first connection
// attempt happens immediately; failures are retried with exponential backoff
// until Close is called.
func New(opts Options) *Client {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 250 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 15 * time.Second
	}
	if opts.Dial == nil {
		url := opts.URL
		if opts.Token != "" {
			url = fmt.Sprintf("%s?token=%s", opts.URL, opts.Token)
		}
		opts.Dial = func(ctx context.Context) (net.Conn, error) {
			conn, _, _, err := ws.Dial(ctx, url)
			return conn, err
		}
	}

	c := &Client{
		opts:     opts,
		handlers: make(map[string]func(json.RawMessage)),
		rooms:    newRoomSet(),
		done:     make(chan struct{}),
	}
	c.typing = newTypingNotifier(c.sendTyping)

	c.wg.Add(1)
	go c.connectLoop()
	return c
}

// On registers a handler for a server event type. The handler receives the
// full raw JSON of the event. One handler per type; registering again
// replaces the previous one. Register handlers before events are expected —
// there is no replay for events that arrived without a handler.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// OnConnect registers a hook invoked after each successful (re)connection,
// once the ready event has been received and room membership replayed.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// Connected reports whether the client currently holds a live connection
// that has completed the ready handshake.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ConnectionID returns the gateway-assigned connection id for the current
// connection, empty while disconnected.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// WaitConnected blocks until the client is connected or the context ends.
func (c *Client) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("client: closed")
		case <-ticker.C:
			if c.Connected() {
				return nil
			}
		}
	}
}

// JoinRoom adds a room to the desired membership set and, when connected,
// sends the join now. While disconnected the join is deferred and replayed
// on the next connection. Joining an already-desired room is a no-op.
func (c *Client) JoinRoom(roomID string) error {
	if !c.rooms.add(roomID) {
		return nil
	}
	if !c.Connected() {
		return nil
	}
	return c.Send(protocol.JoinRoomMsg{Type: protocol.TypeJoinRoom, RoomID: roomID})
}

// LeaveRoom removes a room from the desired set. A leave while disconnected
// only updates the desired set: the gateway forgot the membership when the
// connection dropped, so there is nothing to tell it.
func (c *Client) LeaveRoom(roomID string) error {
	if !c.rooms.remove(roomID) {
		return nil
	}
	if !c.Connected() {
		return nil
	}
	return c.Send(protocol.LeaveRoomMsg{Type: protocol.TypeLeaveRoom, RoomID: roomID})
}

// Rooms returns the desired room set, regardless of connection state.
func (c *Client) Rooms() []string {
	return c.rooms.snapshot()
}

// SendMessage sends a chat message into a channel.
func (c *Client) SendMessage(channelID, content string) error {
	return c.Send(protocol.SendMessageMsg{
		Type:      protocol.TypeSendMessage,
		ChannelID: channelID,
		Content:   content,
	})
}

// Typing records local typing activity in a channel. The notifier debounces:
// a typing start goes out at most once per refresh interval, and a stop goes
// out automatically after the user falls silent.
func (c *Client) Typing(channelID string) {
	c.typing.input(channelID)
}

// StopTyping immediately signals the end of typing in a channel, e.g. when
// the composed message is sent.
func (c *Client) StopTyping(channelID string) {
	c.typing.stop(channelID)
}

// Send marshals and sends an event on the current connection. It fails when
// disconnected; room joins should go through JoinRoom so they replay.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}

	// Concurrent senders (user sends, heartbeats, typing timers, room
	// replay) each write a header plus payload; the frame must go out in
	// one piece.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// Close stops the connection loop and closes any live connection. Safe to
// call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.typing.shutdown()
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}

func (c *Client) sendTyping(channelID string, isTyping bool) {
	_ = c.Send(protocol.TypingMsg{
		Type:      protocol.TypeTyping,
		ChannelID: channelID,
		IsTyping:  isTyping,
	})
}

// connectLoop dials, runs the read loop until the connection dies, and
// retries with exponential backoff plus jitter.
func (c *Client) connectLoop() {
	defer c.wg.Done()

	backoff := c.opts.ReconnectMin
	for {
		select {
		case <-c.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.opts.Dial(ctx)
		cancel()
		if err != nil {
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.ReconnectMax)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		backoff = c.opts.ReconnectMin
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.connID = ""
		c.mu.Unlock()

		select {
		case <-c.done:
			return
		default:
		}
		if !c.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.opts.ReconnectMax)
	}
}

// readLoop reads events until the connection errors. The ready event is
// handled internally: it marks the client connected, replays the desired
// room set, and fires the connect hook.
func (c *Client) readLoop(conn net.Conn) {
	var stopHeartbeat chan struct{}

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if stopHeartbeat != nil {
				close(stopHeartbeat)
			}
			conn.Close()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		if envelope.Type == protocol.TypeReady {
			var ready protocol.ReadyMsg
			if err := json.Unmarshal(data, &ready); err == nil {
				c.mu.Lock()
				c.connected = true
				c.connID = ready.ConnectionID
				onConnect := c.onConnect
				c.mu.Unlock()

				c.replayRooms()
				if c.opts.HeartbeatInterval > 0 && stopHeartbeat == nil {
					stopHeartbeat = make(chan struct{})
					go c.heartbeatLoop(stopHeartbeat)
				}
				if onConnect != nil {
					onConnect()
				}
			}
		}

		c.mu.Lock()
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

// replayRooms re-sends a join for every desired room. The gateway's join is
// idempotent, so replaying an already-held membership is harmless.
func (c *Client) replayRooms() {
	for _, roomID := range c.rooms.snapshot() {
		_ = c.Send(protocol.JoinRoomMsg{Type: protocol.TypeJoinRoom, RoomID: roomID})
	}
}

func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.Send(protocol.HeartbeatMsg{Type: protocol.TypeHeartbeat})
		}
	}
}

// sleep waits for d or until the client is closed; it reports false on close.
func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.done:
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles the backoff with up to 20% jitter, capped at max.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	jitter := time.Duration(rand.Int63n(int64(next)/5 + 1))
	return next - jitter
}
