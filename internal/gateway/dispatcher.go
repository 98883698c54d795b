package gateway

import (
	"context"
	"log"
	"time"

	"github.com/parley/chat-platform/internal/metrics"
	"github.com/parley/chat-platform/internal/protocol"
	"github.com/parley/chat-platform/internal/throttle"
)

// EventHandler is the callback signature for handling a parsed client event.
// The msg parameter is the concrete struct returned by
// protocol.ParseClientEvent (e.g. protocol.JoinRoomMsg, protocol.TypingMsg).
type EventHandler func(conn *Connection, msg interface{})

// Checker is the throttle ledger surface the dispatcher depends on.
// *throttle.Ledger satisfies it; tests substitute an in-process fake.
type Checker interface {
	Check(ctx context.Context, tracker string, rule throttle.Rule) (throttle.Result, error)
}

// Dispatcher routes incoming WebSocket events to registered handlers based
// on the event type. Every inbound event passes the throttle ledger before
// reaching a handler; rejected events are answered with an exception event
// (code 429) on the originating connection only and never reach business
// logic. The built-in heartbeat is handled internally.
type Dispatcher struct {
	handlers    map[string]EventHandler
	rules       map[string]throttle.Rule
	ledger      Checker
	onHeartbeat func(conn *Connection)
}

// NewDispatcher creates a Dispatcher using the given ledger. Event types
// without a dedicated rule are throttled under throttle.RuleDefault.
func NewDispatcher(ledger Checker) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]EventHandler),
		rules: map[string]throttle.Rule{
			protocol.TypeSendMessage: throttle.RuleMessage,
			protocol.TypeTyping:      throttle.RuleTyping,
			protocol.TypeJoinRoom:    throttle.RuleJoin,
			protocol.TypeLeaveRoom:   throttle.RuleJoin,
		},
		ledger: ledger,
	}
}

// Register associates an EventHandler with an event type. A handler already
// registered for the type is silently replaced.
func (d *Dispatcher) Register(msgType string, handler EventHandler) {
	d.handlers[msgType] = handler
}

// SetOnHeartbeat registers a hook invoked for every accepted heartbeat, used
// to refresh upstream presence.
func (d *Dispatcher) SetOnHeartbeat(fn func(conn *Connection)) {
	d.onHeartbeat = fn
}

// Rule returns the throttle rule applied to an event type.
func (d *Dispatcher) Rule(msgType string) throttle.Rule {
	if rule, ok := d.rules[msgType]; ok {
		return rule
	}
	return throttle.RuleDefault
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes, applies the throttle ledger, handles heartbeat internally, and
// routes all other types to the registered handler.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	start := time.Now()

	msgType, msg, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("gateway: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendException(conn, "error", "invalid event format", protocol.CodeBadPayload, 0)
		return
	}

	metrics.EventsTotal.WithLabelValues(msgType).Inc()

	rule := d.Rule(msgType)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	res, _ := d.ledger.Check(ctx, conn.Tracker(), rule)
	cancel()
	if res.Blocked {
		metrics.ThrottledTotal.WithLabelValues(rule.Name).Inc()
		log.Printf("gateway: throttled conn=%s tracker=%s rule=%s retry_after=%ds",
			conn.ID, conn.Tracker(), rule.Name, res.RetryAfter)
		d.sendException(conn, "error", "rate limit exceeded", protocol.CodeRateLimited, res.RetryAfter)
		return
	}

	// Built-in heartbeat: refresh liveness and acknowledge.
	if msgType == protocol.TypeHeartbeat {
		conn.Touch()
		if d.onHeartbeat != nil {
			d.onHeartbeat(conn)
		}
		d.sendAck(conn)
		metrics.EventLatency.Observe(time.Since(start).Seconds())
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("gateway: unsupported event type=%q conn=%s", msgType, conn.ID)
		d.sendException(conn, "error", "unsupported event type", protocol.CodeBadPayload, 0)
		return
	}

	handler(conn, msg)
	metrics.EventLatency.Observe(time.Since(start).Seconds())
}

// sendException delivers an exception event to the originating connection
// only. Build or transmission errors are logged but not propagated; the
// transport is never closed for an application-level rejection.
func (d *Dispatcher) sendException(conn *Connection, status, message string, code, retryAfter int) {
	data, err := protocol.NewException(status, message, code, retryAfter)
	if err != nil {
		log.Printf("gateway: failed to build exception conn=%s: %v", conn.ID, err)
		return
	}
	conn.Enqueue(data, false)
}

// sendAck answers a heartbeat.
func (d *Dispatcher) sendAck(conn *Connection) {
	data, err := protocol.NewServerEvent(protocol.TypeHeartbeatAck, protocol.HeartbeatAckMsg{})
	if err != nil {
		log.Printf("gateway: failed to build heartbeat ack conn=%s: %v", conn.ID, err)
		return
	}
	conn.Enqueue(data, false)
}
