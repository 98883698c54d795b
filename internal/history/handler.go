package history

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/parley/chat-platform/internal/protocol"
)

// HandlerPattern is the mux pattern the history endpoint mounts on.
const HandlerPattern = "GET /channels/{channel}/messages"

// Handler serves message history pages over HTTP. Responses are
// chronological (oldest first) so clients can feed them straight into their
// local message stores.
//
//	GET /channels/{channel}/messages?limit=50          latest page
//	GET /channels/{channel}/messages?before=<msg-id>   page before a message
type Handler struct {
	store *Store
}

// NewHandler creates an HTTP handler backed by the given store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel")
	if channelID == "" {
		http.Error(w, "missing channel id", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		messages []protocol.Message
		err      error
	)
	if beforeID := r.URL.Query().Get("before"); beforeID != "" {
		messages, err = h.store.Before(r.Context(), channelID, beforeID, limit)
	} else {
		messages, err = h.store.Recent(r.Context(), channelID, limit)
	}
	if err != nil {
		log.Printf("history: fetch failed channel=%s: %v", channelID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []protocol.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Messages []protocol.Message `json:"messages"`
	}{Messages: messages})
}
