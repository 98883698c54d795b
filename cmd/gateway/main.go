package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parley/chat-platform/internal/gateway"
	"github.com/parley/chat-platform/internal/history"
	"github.com/parley/chat-platform/internal/messaging"
	"github.com/parley/chat-platform/internal/presence"
	"github.com/parley/chat-platform/internal/protocol"
	"github.com/parley/chat-platform/internal/throttle"
)

func main() {
	config := gateway.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret"
		log.Printf("WARNING: JWT_SECRET not set, using development secret")
	}

	gatewayName, _ := os.Hostname()
	if v := os.Getenv("GATEWAY_NAME"); v != "" {
		gatewayName = v
	}
	if gatewayName == "" {
		gatewayName = "gateway-1"
	}

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "parley-" + gatewayName
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis: throttle ledger + presence ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	pingCancel()

	ledger := throttle.NewLedger(rdb)
	presenceStore := presence.NewStore(rdb, gatewayName)

	// --- PostgreSQL: message history (optional) ---
	var historyStore *history.Store
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		historyStore, err = history.Open(ctx, dsn)
		cancel()
		if err != nil {
			log.Fatalf("failed to open message history: %v", err)
		}
	} else {
		log.Printf("POSTGRES_DSN not set, message history disabled")
	}

	log.Printf("Parley gateway starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  gateway_name:    %s", gatewayName)
	log.Printf("  history:         %v", historyStore != nil)

	// Declare server early so closures can capture it.
	var server *gateway.Server

	// subscribeRoom holds this node's single fan-out subscription for a room.
	// Every event arriving on the subject is delivered to local members
	// through their outbound queues; transient signal types may be dropped
	// under backpressure, chat and stream events never are.
	subscribeRoom := func(roomID string) {
		err := natsClient.SubscribeRoom(roomID, func(data []byte) {
			var envelope struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &envelope); err != nil {
				log.Printf("[room-sub] bad event on room=%s: %v", roomID, err)
				return
			}
			server.Registry().Publish(roomID, data, protocol.Droppable(envelope.Type))
		})
		if err != nil {
			log.Printf("[room-sub] subscribe room=%s FAILED: %v", roomID, err)
		}
	}

	dispatcher := gateway.NewDispatcher(ledger)

	// -----------------------------------------------------------------------
	// join_room — enter a room's fan-out set
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *gateway.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok || joinMsg.RoomID == "" {
			return
		}
		if !conn.Authenticated() {
			// Silent denial: unauthenticated connections stay open but get
			// no room membership.
			log.Printf("join_room denied (unauthenticated) conn=%s room=%s", conn.ID, joinMsg.RoomID)
			return
		}

		first, ok := server.Registry().JoinRoom(conn.ID, joinMsg.RoomID)
		if !ok {
			return
		}
		if first {
			subscribeRoom(joinMsg.RoomID)
		}
		log.Printf("join_room conn=%s user=%s room=%s first=%v", conn.ID, conn.UserID, joinMsg.RoomID, first)
	})

	// -----------------------------------------------------------------------
	// leave_room — leave a room's fan-out set
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *gateway.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveRoomMsg)
		if !ok || leaveMsg.RoomID == "" {
			return
		}

		if emptied := server.Registry().LeaveRoom(conn.ID, leaveMsg.RoomID); emptied {
			_ = natsClient.UnsubscribeRoom(leaveMsg.RoomID)
		}
		log.Printf("leave_room conn=%s room=%s", conn.ID, leaveMsg.RoomID)
	})

	// -----------------------------------------------------------------------
	// send_message — validate, persist, fan out, maybe summon a bot
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *gateway.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok || sendMsg.ChannelID == "" {
			return
		}
		if !conn.Authenticated() {
			log.Printf("send_message denied (unauthenticated) conn=%s", conn.ID)
			return
		}

		if err := protocol.ValidateContent(sendMsg.Content); err != nil {
			resp, _ := protocol.NewException("error", err.Error(), protocol.CodeBadPayload, 0)
			conn.Enqueue(resp, false)
			return
		}

		message := protocol.Message{
			ID:         uuid.New().String(),
			ChannelID:  sendMsg.ChannelID,
			AuthorID:   conn.UserID,
			AuthorName: conn.UserName,
			Content:    sendMsg.Content,
			CreatedAt:  time.Now().UnixMilli(),
		}

		if historyStore != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := historyStore.Append(ctx, &message); err != nil {
				log.Printf("[history] append failed channel=%s: %v", sendMsg.ChannelID, err)
			}
			cancel()
		}

		event, err := protocol.NewServerEvent(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: message})
		if err != nil {
			log.Printf("send_message: build event: %v", err)
			return
		}
		if err := natsClient.PublishRoom(sendMsg.ChannelID, event); err != nil {
			log.Printf("send_message: publish room=%s: %v", sendMsg.ChannelID, err)
		}

		if botID, ok := botMention(sendMsg.Content); ok {
			req, _ := json.Marshal(messaging.BotRequest{
				BotID:     botID,
				ChannelID: sendMsg.ChannelID,
				AuthorID:  conn.UserID,
				Content:   sendMsg.Content,
			})
			if err := natsClient.PublishBotRequest(req); err != nil {
				log.Printf("send_message: publish bot request: %v", err)
			}
		}
	})

	// -----------------------------------------------------------------------
	// typing — relay typing indicator to the channel room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *gateway.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok || typingMsg.ChannelID == "" {
			return
		}
		if !conn.Authenticated() {
			return
		}

		event, err := protocol.NewServerEvent(protocol.TypeServerTyping, protocol.ServerTypingMsg{
			UserID:    conn.UserID,
			ChannelID: typingMsg.ChannelID,
			IsTyping:  typingMsg.IsTyping,
		})
		if err != nil {
			return
		}
		if err := natsClient.PublishRoom(typingMsg.ChannelID, event); err != nil {
			log.Printf("typing: publish room=%s: %v", typingMsg.ChannelID, err)
		}
	})

	// Heartbeats refresh upstream presence.
	dispatcher.SetOnHeartbeat(func(conn *gateway.Connection) {
		if !conn.Authenticated() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := presenceStore.Touch(ctx, conn.UserID); err != nil {
			log.Printf("[presence] touch user=%s: %v", conn.UserID, err)
		}
	})

	verifier := gateway.NewVerifier(jwtSecret)
	server = gateway.NewServer(config, verifier, dispatcher.Dispatch)

	if historyStore != nil {
		server.RegisterHTTP(history.HandlerPattern, history.NewHandler(historyStore))
	}

	server.SetOnConnect(func(conn *gateway.Connection) {
		if !conn.Authenticated() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := presenceStore.Connect(ctx, conn.UserID); err != nil {
			log.Printf("[presence] connect user=%s: %v", conn.UserID, err)
		}
	})

	server.SetOnDisconnect(func(conn *gateway.Connection, emptiedRooms []string) {
		for _, roomID := range emptiedRooms {
			_ = natsClient.UnsubscribeRoom(roomID)
		}
		if conn.Authenticated() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := presenceStore.Disconnect(ctx, conn.UserID); err != nil {
				log.Printf("[presence] disconnect user=%s: %v", conn.UserID, err)
			}
		}
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if historyStore != nil {
			if err := historyStore.Close(); err != nil {
				log.Printf("history close error: %v", err)
			}
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// botMention reports whether a message summons a bot: the first token is an
// @-mention of a bot id (bots are provisioned with ids starting "bot").
func botMention(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "@") {
		return "", false
	}
	token := trimmed[1:]
	if i := strings.IndexAny(token, " \t\n"); i >= 0 {
		token = token[:i]
	}
	if !strings.HasPrefix(token, "bot") || token == "" {
		return "", false
	}
	return token, true
}
