package server

import (
	"context"
	"sync"
)

// compactThreshold is how many popped slots accumulate before the backing
// array is shifted down.
const compactThreshold = 1024

// Queue is the unbounded FIFO between the reactor and the writer.
//
// Push never blocks, so a slow writer cannot stall the event loop. Pop
// blocks while the queue is empty. Growth is unbounded: a client
// flood grows memory rather than applying backpressure.
type Queue struct {
	mu     sync.Mutex
	items  []Request
	head   int
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends req to the tail. It is safe for concurrent producers and
// keeps each producer's pushes in order.
func (q *Queue) Push(req Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, req)
	q.signalLocked()
	return nil
}

// Pop removes and returns the head of the queue, waiting while it is empty.
// It returns ctx.Err() if ctx ends first and ErrQueueClosed once the queue
// is closed and drained.
func (q *Queue) Pop(ctx context.Context) (Request, error) {
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			req := q.items[q.head]
			q.items[q.head] = Request{}
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			} else {
				if q.head >= compactThreshold && q.head*2 >= len(q.items) {
					n := copy(q.items, q.items[q.head:])
					clear(q.items[n:])
					q.items = q.items[:n]
					q.head = 0
				}
				q.signalLocked()
			}
			q.mu.Unlock()
			return req, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Request{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Request{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops the queue. Pending requests can still be popped; further
// pushes fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

func (q *Queue) signalLocked() {
	if q.closed {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
