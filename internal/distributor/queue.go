package distributor

import (
	"sync"

	"relaybot/internal/message"
)

// Task is one delivery of a message to one destination.
type Task struct {
	Message  *message.Message
	ChatID   int64
	ChatType string
	Retry    int
	ReplyTo  int
}

// queue is an unbounded FIFO shared by the worker pool. A nil task is the
// stop signal for one worker.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Task
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	q.cond.Signal()
	return true
}

func (q *queue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t
}

// pending counts real tasks, not stop signals.
func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.items {
		if t != nil {
			n++
		}
	}
	return n
}

// reopen accepts tasks again and drops leftover stop signals.
func (q *queue) reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
	kept := q.items[:0]
	for _, t := range q.items {
		if t != nil {
			kept = append(kept, t)
		}
	}
	q.items = kept
}

// close discards queued tasks and leaves one stop signal per worker.
func (q *queue) close(workers int) (dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.items {
		if t != nil {
			dropped++
		}
	}
	q.closed = true
	q.items = make([]*Task, workers)
	q.cond.Broadcast()
	return dropped
}
