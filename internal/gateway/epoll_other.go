//go:build !linux

package gateway

import (
	"net"
	"sync"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms
// so the gateway can be developed on macOS/Windows. On Linux this is replaced
// by the real epoll implementation.
//
// Each connection gets a monitor goroutine that blocks on a one-byte read to
// detect pending data. The byte is stashed on the connection wrapper and
// replayed to the frame reader, so nothing is lost. The monitor then stays
// off the socket until Done reports the frame fully consumed, keeping a
// single reader on the socket at any time.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// fallbackConn wraps a connection with a stash for the readiness probe byte.
type fallbackConn struct {
	net.Conn
	mu      sync.Mutex
	stash   []byte
	release chan struct{}
}

// wrapConn prepares a connection for the fallback readiness probe. The Linux
// build returns the connection unchanged.
func wrapConn(conn net.Conn) net.Conn {
	return &fallbackConn{Conn: conn, release: make(chan struct{}, 1)}
}

// Read drains the stashed probe byte before touching the socket.
func (c *fallbackConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.stash) > 0 {
		n := copy(p, c.stash)
		c.stash = c.stash[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	return c.Conn.Read(p)
}

// NewEpoll creates the fallback instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts its monitor goroutine.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	if fc, ok := conn.(*fallbackConn); ok {
		go e.monitor(fc)
	}
	return nil
}

// monitor blocks on a one-byte read to detect available data, stashes the
// byte for replay, signals readiness, and waits for the frame reader to
// finish before reading again.
func (e *Epoll) monitor(c *fallbackConn) {
	buf := make([]byte, 1)
	for {
		n, err := c.Conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.stash = append(c.stash, buf[:n]...)
			c.mu.Unlock()
		}

		select {
		case e.readyCh <- c:
		case <-e.done:
			return
		}
		if err != nil {
			// Closed or errored: readiness was signaled once so the read
			// path observes the failure and removes the connection.
			return
		}

		select {
		case <-c.release:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters a connection from the fallback.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Done hands the socket back to the connection's monitor after the frame
// reader is finished with it.
func (e *Epoll) Done(conn net.Conn) {
	if fc, ok := conn.(*fallbackConn); ok {
		select {
		case fc.release <- struct{}{}:
		default:
		}
	}
}

// Wait blocks until at least one connection is ready, then drains any
// additional ready connections without blocking.
func (e *Epoll) Wait() ([]net.Conn, error) {
	select {
	case first := <-e.readyCh:
		conns := []net.Conn{first}
		for {
			select {
			case conn := <-e.readyCh:
				conns = append(conns, conn)
			default:
				return conns, nil
			}
		}
	case <-e.done:
		return nil, net.ErrClosed
	}
}

// Close shuts down the fallback instance.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD is unavailable off Linux; connections are tracked by value instead.
func socketFD(conn net.Conn) int {
	return -1
}
