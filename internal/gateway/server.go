// Package gateway implements the realtime event gateway: it upgrades HTTP
// connections to WebSocket, resolves identity from a presented token,
// applies the throttle ledger to inbound events, tracks room membership,
// and fans outbound events out to room members.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/parley/chat-platform/internal/metrics"
	"github.com/parley/chat-platform/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket gateway.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket gateway built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections, registers them with an epoll instance for I/O
// readiness notifications, and dispatches ready connections to a bounded
// worker pool for frame reading.
//
// Identity is resolved once at upgrade from a presented token. Connections
// without a valid token stay open — some transports reconnect noisily and
// hard-closing them is worse than denying their room operations.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	registry     *Registry
	verifier     *Verifier
	onMessage    func(conn *Connection, data []byte)
	onConnect    func(conn *Connection)
	onDisconnect func(conn *Connection, emptiedRooms []string)
	httpServer   *http.Server
	extraRoutes  map[string]http.Handler
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration, token verifier,
// and message callback. The onMessage function is called from a worker
// goroutine whenever a complete WebSocket text frame is received.
func NewServer(config ServerConfig, verifier *Verifier, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:      config,
		registry:    NewRegistry(),
		verifier:    verifier,
		onMessage:   onMessage,
		extraRoutes: make(map[string]http.Handler),
		done:        make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked after a connection is registered
// and its ready event sent.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, graceful close, shutdown). emptiedRooms lists the rooms left
// without local members, so the caller can drop their fan-out subscriptions.
func (s *Server) SetOnDisconnect(fn func(conn *Connection, emptiedRooms []string)) {
	s.onDisconnect = fn
}

// RegisterHTTP mounts an additional HTTP handler on the gateway's mux,
// e.g. the message history endpoint. Must be called before Start.
func (s *Server) RegisterHTTP(pattern string, handler http.Handler) {
	s.extraRoutes[pattern] = handler
}

// Start initializes the epoll instance, configures the HTTP server, and
// begins accepting WebSocket connections. It starts the epoll event loop in
// a background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("gateway: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	for pattern, handler := range s.extraRoutes {
		mux.Handle(pattern, handler)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.startEventLoop()

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("gateway: listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader, resolves identity from the request, and
// registers the connection.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.registry.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// Resolve identity before the upgrade consumes the request. An invalid
	// or absent token leaves the connection unauthenticated but open.
	identity, authErr := s.verifier.Verify(bearerToken(r))
	remoteIP := clientIP(r)

	rawConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}
	conn := wrapConn(rawConn)

	c := newConnection(uuid.New().String(), conn, socketFD(conn), remoteIP, s.config.WriteTimeout)
	if authErr == nil {
		c.UserID = identity.UserID
		c.UserName = identity.Name
	}

	s.registry.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("gateway: epoll add failed conn=%s: %v", c.ID, err)
		s.registry.Remove(c.ID)
		return
	}

	metrics.ConnectionsTotal.Set(float64(s.registry.Count()))

	ready, err := protocol.NewServerEvent(protocol.TypeReady, protocol.ReadyMsg{
		ConnectionID: c.ID,
		UserID:       c.UserID,
	})
	if err != nil {
		log.Printf("gateway: failed to build ready event conn=%s: %v", c.ID, err)
	} else {
		c.Enqueue(ready, false)
	}

	if s.onConnect != nil {
		s.onConnect(c)
	}

	log.Printf("gateway: new connection conn=%s user=%q ip=%s (total=%d)",
		c.ID, c.UserID, remoteIP, s.registry.Count())
}

// handleHealth responds with the gateway's health status as JSON, including
// the current connection and room counts. Used by the load balancer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.registry.Count(),
		Rooms:       s.registry.RoomCount(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	workerPool := make(chan struct{}, s.config.WorkerPoolSize)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("gateway: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			workerPool <- struct{}{}

			go func() {
				defer func() { <-workerPool }()
				s.handleConn(conn)
				s.epoll.Done(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. A failed read removes the
// connection. The processing flag guards against duplicate dispatch from
// level-triggered epoll, which also keeps each connection's inbound events
// serialized: different connections run concurrently, but frames from one
// connection never interleave with each other.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.registry.GetByConn(netConn)
	if c == nil {
		return
	}

	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll
		// dispatch); the connection itself may be fine.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: liveness already recorded, nothing else to do.
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from epoll and the registry, clears
// its room memberships, and closes the socket. Exported so the heartbeat
// sweep can evict connections with dead sockets.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	// Only proceed if the connection was actually registered; this
	// prevents double cleanup when goroutines race to remove the same
	// connection (read error + heartbeat sweep).
	emptied, ok := s.registry.Remove(c.ID)
	if !ok {
		return
	}

	metrics.ConnectionsTotal.Set(float64(s.registry.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c, emptied)
	}

	log.Printf("gateway: connection closed conn=%s user=%q (total=%d)",
		c.ID, c.UserID, s.registry.Count())
}

// Send delivers an event to a single connection by ID through its outbound
// queue. Returns an error only when the connection is unknown.
func (s *Server) Send(connID string, data []byte, droppable bool) error {
	c := s.registry.Get(connID)
	if c == nil {
		return fmt.Errorf("gateway: connection %s not found", connID)
	}
	c.Enqueue(data, droppable)
	return nil
}

// Registry returns the connection registry for room membership operations
// and fan-out.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Shutdown performs a graceful shutdown: stop the HTTP listener, signal the
// event loop to exit, close all active connections, clean up epoll.
func (s *Server) Shutdown() error {
	log.Println("gateway: shutting down...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("gateway: http shutdown error: %v", err)
	}

	var wg sync.WaitGroup
	for _, c := range s.registry.All() {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			_ = s.epoll.Remove(c.Conn)
			s.registry.Remove(c.ID)
		}(c)
	}
	wg.Wait()

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("gateway: server stopped, all connections closed")
	return nil
}

// bearerToken extracts the connection token from the upgrade request: the
// Authorization header if present, else the token query parameter (browser
// WebSocket clients cannot set headers).
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// clientIP returns the best-effort client IP: the first X-Forwarded-For
// entry when behind the load balancer, else the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isEINTR checks if the error is an interrupted syscall (EINTR), which is
// expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
