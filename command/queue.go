package command

import "sync"

// Queue holds synthetic invocations (schedules, keywords, hooks, operator
// injections) until the host loop drains them. Push is safe from any
// goroutine; Drain takes everything queued in one step.
type Queue struct {
	mu    sync.Mutex
	items []Invocation
	limit int
}

// NewQueue creates a queue holding at most limit items (0 means 256).
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 256
	}
	return &Queue{limit: limit}
}

// Push appends inv, marked synthetic.
func (q *Queue) Push(inv Invocation) error {
	inv.Synthetic = true
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, inv)
	return nil
}

// Drain removes and returns every queued invocation, oldest first.
func (q *Queue) Drain() []Invocation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued invocations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
