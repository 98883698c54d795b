// Command botd is the bot responder pool. It consumes bot requests from the
// shared work subject in a queue group (so multiple instances split the
// load) and streams responses incrementally into the requesting channel's
// room subject: stream start, a series of chunks, stream end.
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-platform/internal/messaging"
	"github.com/parley/chat-platform/internal/protocol"
)

// chunkDelay paces stream chunks so clients render progressively.
const chunkDelay = 150 * time.Millisecond

func main() {
	log.Println("Starting Parley bot responder...")

	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "parley-botd"

	queue := os.Getenv("BOTD_QUEUE")
	if queue == "" {
		queue = "botd"
	}

	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeBotRequests(queue, func(data []byte) {
		var req messaging.BotRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[botd] failed to unmarshal request: %v", err)
			return
		}
		if req.ChannelID == "" || req.BotID == "" {
			log.Printf("[botd] dropping malformed request: %+v", req)
			return
		}
		streamResponse(natsClient, req)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to bot requests: %v", err)
	}

	log.Printf("Parley bot responder running")
	log.Printf("  nats_url: %s", natsConfig.URL)
	log.Printf("  queue:    %s", queue)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}

// streamResponse publishes one full response as an incremental stream into
// the channel's room subject.
func streamResponse(natsClient *messaging.Client, req messaging.BotRequest) {
	streamID := uuid.New().String()
	log.Printf("[botd] request bot=%s channel=%s author=%s stream=%s",
		req.BotID, req.ChannelID, req.AuthorID, streamID)

	publish := func(msgType string, payload interface{}) bool {
		event, err := protocol.NewServerEvent(msgType, payload)
		if err != nil {
			log.Printf("[botd] build %s: %v", msgType, err)
			return false
		}
		if err := natsClient.PublishRoom(req.ChannelID, event); err != nil {
			log.Printf("[botd] publish %s channel=%s: %v", msgType, req.ChannelID, err)
			return false
		}
		return true
	}

	if !publish(protocol.TypeBotStreamStart, protocol.BotStreamStartMsg{
		BotID:     req.BotID,
		ChannelID: req.ChannelID,
		StreamID:  streamID,
	}) {
		return
	}

	for _, chunk := range chunkResponse(composeReply(req)) {
		time.Sleep(chunkDelay)
		publish(protocol.TypeBotStreamChunk, protocol.BotStreamChunkMsg{
			StreamID: streamID,
			Content:  chunk,
		})
	}

	publish(protocol.TypeBotStreamEnd, protocol.BotStreamEndMsg{StreamID: streamID})
	log.Printf("[botd] stream complete stream=%s channel=%s", streamID, req.ChannelID)
}

// composeReply produces the bot's response text. The built-in responder
// echoes the prompt; real bots replace this with their own backends.
func composeReply(req messaging.BotRequest) string {
	prompt := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(req.Content), "@"+req.BotID))
	if prompt == "" {
		return "Hello! Mention me with a question and I will answer here."
	}
	return "You asked: " + prompt
}

// chunkResponse splits a response into word-boundary chunks of roughly equal
// size for progressive rendering.
func chunkResponse(text string) []string {
	const target = 24

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var b strings.Builder
	for _, word := range words {
		if b.Len() > 0 && b.Len()+1+len(word) > target {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}

	// Re-add separators lost by Fields: every chunk except the last gets a
	// trailing space so concatenation reproduces readable text.
	for i := 0; i < len(chunks)-1; i++ {
		chunks[i] += " "
	}
	return chunks
}
