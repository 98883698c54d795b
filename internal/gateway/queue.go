package gateway

import (
	"sync"

	"github.com/parley/chat-platform/internal/metrics"
)

// outEvent is one queued outbound frame with its delivery class.
type outEvent struct {
	data      []byte
	droppable bool
}

// sendQueue is the bounded per-connection outbound queue. Pushers never
// block: when the queue is at capacity the oldest droppable event (typing,
// speaker signals) is evicted to make room. Events that must not be lost
// (chat messages, stream chunks, exceptions) are enqueued even past the
// soft cap, so a slow consumer degrades to dropped typing indicators before
// anything else.
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []outEvent
	cap    int
	closed bool
}

func newSendQueue(capacity int) *sendQueue {
	q := &sendQueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues an event without ever blocking the caller. It returns false
// if the event was dropped (queue closed, or full with no evictable slot and
// the event itself droppable).
func (q *sendQueue) push(data []byte, droppable bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.items) >= q.cap {
		if !q.evictOldestDroppable() {
			if droppable {
				metrics.FanoutDropped.Inc()
				return false
			}
			// Queue full of must-deliver events: grow past the cap rather
			// than lose a chat message.
		}
	}

	q.items = append(q.items, outEvent{data: data, droppable: droppable})
	q.cond.Signal()
	return true
}

// evictOldestDroppable removes the oldest droppable event. Caller holds mu.
func (q *sendQueue) evictOldestDroppable() bool {
	for i, ev := range q.items {
		if ev.droppable {
			q.items = append(q.items[:i], q.items[i+1:]...)
			metrics.FanoutDropped.Inc()
			return true
		}
	}
	return false
}

// pop blocks until an event is available or the queue is closed. The second
// return value is false once the queue is closed and drained.
func (q *sendQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	ev := q.items[0]
	q.items = q.items[1:]
	return ev.data, true
}

// close marks the queue closed and wakes the writer. Pending items are
// discarded; the connection is going away anyway.
func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

// len reports the current queue depth.
func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
