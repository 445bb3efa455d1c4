package server

import "sync"

// workQueue is the FIFO of accepted connections waiting for a worker.
// ready holds at most one pending wake-up; a worker that takes an item while
// more remain passes the signal on.
type workQueue struct {
	mu     sync.Mutex
	items  []*Connection
	closed bool
	ready  chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{ready: make(chan struct{}, 1)}
}

// push appends c and wakes one worker. It reports false once the queue is closed.
func (q *workQueue) push(c *Connection) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.signal()
	return true
}

// pop removes the oldest connection, if any.
func (q *workQueue) pop() (*Connection, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return c, true
}

// drain closes the queue and returns everything still waiting.
func (q *workQueue) drain() []*Connection {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	out := q.items
	q.items = nil
	return out
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *workQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
