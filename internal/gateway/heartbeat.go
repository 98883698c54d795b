package gateway

import (
	"log"
	"time"

	"github.com/parley/chat-platform/internal/metrics"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping and sweep (default: 30s)
	// StaleAfter is how long without liveness evidence a connection is
	// reported stale. Staleness feeds the liveness gauge and logs; it is
	// not a close reason — dead sockets are reaped by write/read errors.
	StaleAfter time.Duration
}

// DefaultHeartbeatConfig returns sensible defaults.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:   30 * time.Second,
		StaleAfter: 90 * time.Second, // three missed intervals
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// protocol-level ping frames to all connections and exports how many have
// gone quiet. It returns immediately; the goroutine exits when the server's
// done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections pings every connection and counts the stale ones. A
// failed ping write means the socket is dead and the connection is removed;
// mere silence is only recorded, since clients on flaky networks reconnect
// on their own and the transport read path reports real closures.
func sweepConnections(server *Server, config HeartbeatConfig) {
	now := time.Now()
	stale := 0

	for _, c := range server.Registry().All() {
		if now.Sub(c.LastPing()) > config.StaleAfter {
			stale++
			log.Printf("gateway: connection stale conn=%s last_seen=%s ago",
				c.ID, now.Sub(c.LastPing()).Round(time.Second))
		}

		// The write mutex serializes the ping with concurrent application
		// writes. The browser answers protocol pings automatically.
		if err := c.WritePing(); err != nil {
			log.Printf("gateway: heartbeat ping failed conn=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}

	metrics.StaleConnections.Set(float64(stale))
}
