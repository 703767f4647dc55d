package sched

import "sync"

// inbox is the thread-safe FIFO through which other goroutines hand work to
// the timeline.
//
// The queue is unbounded so a burst of external stimuli never blocks the
// producer. It uses a 1-buffered channel for signaling so the realtime loop
// can select on it together with ctx.Done() and the next timer deadline.
type inbox struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		items:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Push adds fn to the back of the inbox.
// Returns false if the inbox is closed.
func (q *inbox) Push(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, fn)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Drain removes and returns everything queued so far, in push order.
func (q *inbox) Drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = make([]func(), 0, cap(items))
	return items
}

// Len returns the number of queued items.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns a channel that signals when items may be available.
// The channel is closed by Close, so waiters wake immediately afterwards.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *inbox) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more items will be pushed.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
