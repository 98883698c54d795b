package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_room event
// ---------------------------------------------------------------------------

func TestParseClientEvent_JoinRoom(t *testing.T) {
	input := []byte(`{"type":"join_room","room_id":"channel-42"}`)

	msgType, msg, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinRoom {
		t.Fatalf("expected type %q, got %q", TypeJoinRoom, msgType)
	}

	jm, ok := msg.(JoinRoomMsg)
	if !ok {
		t.Fatalf("expected JoinRoomMsg, got %T", msg)
	}
	if jm.RoomID != "channel-42" {
		t.Errorf("expected room_id %q, got %q", "channel-42", jm.RoomID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message event
// ---------------------------------------------------------------------------

func TestParseClientEvent_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","channel_id":"chA","content":"Hello!"}`)

	msgType, msg, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ChannelID != "chA" {
		t.Errorf("expected channel_id %q, got %q", "chA", sm.ChannelID)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
}

func TestParseClientEvent_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","channel_id":"chA","is_typing":true}`)

	msgType, msg, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}
	tm := msg.(TypingMsg)
	if !tm.IsTyping {
		t.Error("expected is_typing=true")
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed events
// ---------------------------------------------------------------------------

func TestParseClientEvent_UnknownType(t *testing.T) {
	input := []byte(`{"type":"self_destruct"}`)

	msgType, msg, err := ParseClientEvent(input)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "self_destruct" {
		t.Errorf("expected type to be returned even on error, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil msg, got %v", msg)
	}
}

func TestParseClientEvent_MissingType(t *testing.T) {
	input := []byte(`{"room_id":"r1"}`)

	if _, _, err := ParseClientEvent(input); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientEvent_InvalidJSON(t *testing.T) {
	input := []byte(`{not json`)

	if _, _, err := ParseClientEvent(input); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Building server events
// ---------------------------------------------------------------------------

func TestNewServerEvent_NewMessage(t *testing.T) {
	payload := NewMessageMsg{
		Message: Message{
			ID:        "m1",
			ChannelID: "chA",
			AuthorID:  "u1",
			Content:   "hi there",
			CreatedAt: 1700000000000,
		},
	}

	data, err := NewServerEvent(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeNewMessage {
		t.Errorf("expected type %q, got %v", TypeNewMessage, result["type"])
	}
	inner, ok := result["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message object, got %T", result["message"])
	}
	if inner["id"] != "m1" {
		t.Errorf("expected message id %q, got %v", "m1", inner["id"])
	}
}

func TestNewException_CarriesRetryAfter(t *testing.T) {
	data, err := NewException("error", "rate limit exceeded", CodeRateLimited, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var exc ExceptionMsg
	if err := json.Unmarshal(data, &exc); err != nil {
		t.Fatalf("failed to unmarshal exception: %v", err)
	}
	if exc.Type != TypeException {
		t.Errorf("expected type %q, got %q", TypeException, exc.Type)
	}
	if exc.Code != CodeRateLimited {
		t.Errorf("expected code %d, got %d", CodeRateLimited, exc.Code)
	}
	if exc.RetryAfter != 30 {
		t.Errorf("expected retry_after 30, got %d", exc.RetryAfter)
	}
	if exc.Timestamp == 0 {
		t.Error("expected non-zero timestamp")
	}
}

// ---------------------------------------------------------------------------
// Test: Droppable classification
// ---------------------------------------------------------------------------

func TestDroppable(t *testing.T) {
	cases := []struct {
		msgType   string
		droppable bool
	}{
		{TypeServerTyping, true},
		{TypeVoiceSpeakers, true},
		{TypeNewMessage, false},
		{TypeBotStreamChunk, false},
		{TypeBotStreamEnd, false},
		{TypeException, false},
	}
	for _, tc := range cases {
		if got := Droppable(tc.msgType); got != tc.droppable {
			t.Errorf("Droppable(%q) = %v, want %v", tc.msgType, got, tc.droppable)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Content validation
// ---------------------------------------------------------------------------

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", "hello world", false},
		{"empty", "", true},
		{"too many bytes", strings.Repeat("x", MaxContentBytes+1), true},
		{"too many chars", strings.Repeat("é", MaxContentChars+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"max chars exactly", strings.Repeat("a", MaxContentChars), false},
	}
	for _, tc := range cases {
		err := ValidateContent(tc.content)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}
