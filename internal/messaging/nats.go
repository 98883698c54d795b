// Package messaging provides a NATS client wrapper for pub/sub messaging
// between Parley realtime services. Room events fan out through
// room.<room_id> subjects so that every gateway node with local members
// receives them; bot requests travel on a shared work subject consumed by
// the bot responder.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Parley services.
const (
	// SubjectRoom carries every event fanned out to a room: new_message,
	// typing, bot stream events, voice events. Suffix: .<room_id>.
	SubjectRoom = "room"

	// SubjectBotRequest carries messages addressed to bots from gateway
	// nodes to the bot responder pool.
	SubjectBotRequest = "bot.request"
)

// BotRequest is the payload published on SubjectBotRequest when a chat
// message addresses a bot.
type BotRequest struct {
	BotID     string `json:"bot_id"`
	ChannelID string `json:"channel_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
}

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "parley",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishRoom publishes a serialized event to the room.<roomID> subject.
func (c *Client) PublishRoom(roomID string, data []byte) error {
	return c.conn.Publish(SubjectRoom+"."+roomID, data)
}

// SubscribeRoom subscribes to the room.<roomID> subject. A gateway node holds
// at most one subscription per room regardless of how many local connections
// joined it; calling SubscribeRoom for an already-subscribed room is a no-op.
func (c *Client) SubscribeRoom(roomID string, handler func(data []byte)) error {
	subject := SubjectRoom + "." + roomID

	c.mu.Lock()
	if _, ok := c.subs[subject]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if _, ok := c.subs[subject]; ok {
		// Lost the race to another goroutine; keep the first subscription.
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeRoom drops the node's subscription for a room. It is a no-op if
// no subscription is held.
func (c *Client) UnsubscribeRoom(roomID string) error {
	subject := SubjectRoom + "." + roomID

	c.mu.Lock()
	sub, ok := c.subs[subject]
	if ok {
		delete(c.subs, subject)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// PublishBotRequest publishes a bot work item.
func (c *Client) PublishBotRequest(data []byte) error {
	return c.conn.Publish(SubjectBotRequest, data)
}

// SubscribeBotRequests subscribes to bot requests in the given queue group so
// that multiple responder instances share the work.
func (c *Client) SubscribeBotRequests(queue string, handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectBotRequest, queue, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectBotRequest, err)
	}

	c.mu.Lock()
	c.subs[SubjectBotRequest] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
