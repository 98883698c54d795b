package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// defaultQueueCap is the soft cap on the per-connection outbound queue.
const defaultQueueCap = 256

// Connection represents a single WebSocket client connection with its
// resolved identity and a write mutex for serializing outbound frames.
type Connection struct {
	ID        string // connection ID (UUID)
	UserID    string // authenticated user id, empty when unauthenticated
	UserName  string
	RemoteIP  string    // best-effort client IP for throttle tracking
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor, -1 off Linux
	CreatedAt time.Time // when the connection was established

	lastPing     atomic.Int64  // unix nano of last liveness evidence
	writeMu      sync.Mutex    // serializes writes to this connection
	writeTimeout time.Duration // per-frame write deadline, 0 = none
	processing   int32         // atomic flag: 0 = idle, 1 = being read by handleConn
	queue        *sendQueue
	writerOnce   sync.Once
}

// newConnection builds a Connection with an outbound queue and starts its
// writer goroutine on first Enqueue.
func newConnection(id string, conn net.Conn, fd int, remoteIP string, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		Conn:         conn,
		Fd:           fd,
		RemoteIP:     remoteIP,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		queue:        newSendQueue(defaultQueueCap),
	}
	c.Touch()
	return c
}

// Authenticated reports whether the connection presented a valid credential.
func (c *Connection) Authenticated() bool {
	return c.UserID != ""
}

// Tracker returns the throttle ledger subject for this connection: the user
// id when authenticated, the client IP otherwise, or "unknown".
func (c *Connection) Tracker() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.RemoteIP != "" {
		return c.RemoteIP
	}
	return "unknown"
}

// Touch records liveness evidence now.
func (c *Connection) Touch() {
	c.lastPing.Store(time.Now().UnixNano())
}

// LastPing returns the time of the most recent liveness evidence.
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// Enqueue hands an outbound frame to the connection's writer. It never
// blocks; delivery is best-effort and droppable events may be evicted under
// pressure. The writer goroutine is started lazily on first use.
func (c *Connection) Enqueue(data []byte, droppable bool) {
	c.writerOnce.Do(func() {
		go c.writeLoop()
	})
	c.queue.push(data, droppable)
}

// writeLoop drains the outbound queue onto the socket. A write error,
// including a deadline expiry on a receiver whose TCP buffer stays full,
// ends the loop and closes the socket so the epoll read path removes the
// connection.
func (c *Connection) writeLoop() {
	for {
		data, ok := c.queue.pop()
		if !ok {
			return
		}
		if err := c.WriteMessage(data); err != nil {
			c.Conn.Close()
			return
		}
	}
}

// WriteMessage sends a WebSocket text frame on this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes;
// the write deadline bounds how long a stalled receiver can hold it.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close stops the writer and closes the underlying network connection.
func (c *Connection) Close() error {
	c.queue.close()
	return c.Conn.Close()
}
