package events

import "sync"

// queue is a bounded FIFO of events with a coalescing signal channel
// for context-aware waiting in Bus.Run.
type queue struct {
	mu     sync.Mutex
	events []Event
	limit  int
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue(limit int) *queue {
	return &queue{
		events: make([]Event, 0, 64),
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends e. Reports false if the queue is closed or full.
func (q *queue) enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.limit > 0 && len(q.events) >= q.limit {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front event without blocking.
func (q *queue) tryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Release the payload map for GC.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// wait returns the channel signalling that events may be available.
// It is closed by close.
func (q *queue) wait() <-chan struct{} {
	return q.signal
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close stops further enqueues and wakes waiters. Idempotent.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
