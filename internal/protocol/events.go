// Package protocol defines the WebSocket event types and structures exchanged
// between clients and the realtime gateway. All events are serialized as JSON
// and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeHeartbeat   = "heartbeat"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
)

// Server -> Client event types.
const (
	TypeReady        = "ready"
	TypeNewMessage   = "new_message"
	TypeServerTyping = "typing"
	TypeException    = "exception"
	TypeHeartbeatAck = "heartbeat_ack"

	TypeBotStreamStart = "bot.stream.start"
	TypeBotStreamChunk = "bot.stream.chunk"
	TypeBotStreamEnd   = "bot.stream.end"

	TypeVoiceJoined   = "voice.participant.joined"
	TypeVoiceLeft     = "voice.participant.left"
	TypeVoiceSpeakers = "voice.speakers"
	TypeVoiceMute     = "voice.mute"
)

// Exception codes carried in ExceptionMsg.Code.
const (
	CodeRateLimited = 429
	CodeBadPayload  = 400
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payload types
// ---------------------------------------------------------------------------

// Message is a chat message as delivered to clients and persisted in history.
type Message struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channel_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"` // unix milliseconds
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinRoomMsg asks the gateway to add this connection to a room.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMsg asks the gateway to remove this connection from a room.
type LeaveRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// HeartbeatMsg is the periodic application-level liveness ping.
type HeartbeatMsg struct {
	Type string `json:"type"`
}

// SendMessageMsg carries a chat message from the client into a channel room.
type SendMessageMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// TypingMsg signals that the client started or stopped typing in a channel.
type TypingMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ReadyMsg is sent once after the WebSocket upgrade. UserID is empty when the
// connection presented no valid credential.
type ReadyMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id,omitempty"`
}

// NewMessageMsg delivers a chat message to room members.
type NewMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// ServerTypingMsg relays a typing indicator to room members.
type ServerTypingMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// ExceptionMsg reports an operational error to the originating connection
// only. It is used both for throttling rejections (code 429) and for any
// other per-connection failure; it is never broadcast.
type ExceptionMsg struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	Timestamp int64  `json:"timestamp"`
	// RetryAfter is the block expiry estimate in seconds for code 429.
	RetryAfter int `json:"retry_after,omitempty"`
}

// HeartbeatAckMsg acknowledges a client heartbeat.
type HeartbeatAckMsg struct {
	Type string `json:"type"`
}

// BotStreamStartMsg opens an incremental bot response stream in a channel.
type BotStreamStartMsg struct {
	Type      string `json:"type"`
	BotID     string `json:"bot_id"`
	ChannelID string `json:"channel_id"`
	StreamID  string `json:"stream_id"`
}

// BotStreamChunkMsg appends content to an open bot response stream.
type BotStreamChunkMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Content  string `json:"content"`
}

// BotStreamEndMsg terminates a bot response stream.
type BotStreamEndMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// VoiceParticipantMsg announces a participant joining or leaving a voice
// room, relayed from the media layer.
type VoiceParticipantMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// VoiceSpeakersMsg carries the full set of currently-active speakers for a
// voice room. Receivers recompute speaking state from this set, so a stale
// speaking flag cannot outlive the next signal.
type VoiceSpeakersMsg struct {
	Type    string   `json:"type"`
	RoomID  string   `json:"room_id"`
	UserIDs []string `json:"user_ids"`
}

// VoiceMuteMsg relays a track mute/unmute for one participant.
type VoiceMuteMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Muted  bool   `json:"muted"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHeartbeat:
		var m HeartbeatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event. The
// msgType is injected into the payload under the "type" key.
func NewServerEvent(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}

// NewException builds an exception event with the current timestamp.
func NewException(status string, message string, code int, retryAfter int) ([]byte, error) {
	return NewServerEvent(TypeException, ExceptionMsg{
		Status:     status,
		Message:    message,
		Code:       code,
		Timestamp:  time.Now().UnixMilli(),
		RetryAfter: retryAfter,
	})
}

// Droppable reports whether an event of the given type may be evicted from a
// full outbound queue. Typing and speaker signals are transient and safe to
// drop under pressure; chat messages and stream events never are.
func Droppable(msgType string) bool {
	switch msgType {
	case TypeServerTyping, TypeVoiceSpeakers:
		return true
	}
	return false
}
