package queue

import (
	"sync"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
)

// TaskQueue is an unbounded FIFO of crawl tasks shared by all workers.
// Workers re-enqueue follow-on pagination tasks while draining it, so the
// queue tracks in-flight work as well: Idle fires only when no task is
// queued and no worker still holds one.
type TaskQueue struct {
	mu      sync.Mutex
	items   []*model.Task
	pending int // queued + in-flight
	wake    chan struct{}
	idle    chan struct{}
	idled   bool
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		wake: make(chan struct{}, 1),
		idle: make(chan struct{}),
	}
}

// Push appends a task. Never blocks.
func (q *TaskQueue) Push(task *model.Task) {
	q.mu.Lock()
	q.items = append(q.items, task)
	q.pending++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes the oldest task, waiting up to timeout when the queue is
// empty. The bounded wait lets callers re-check their stop signal between
// polls. A popped task stays counted as in-flight until TaskDone.
func (q *TaskQueue) Pop(timeout time.Duration) (*model.Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			task := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return task, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-timer.C:
			return nil, false
		}
	}
}

// TaskDone marks one previously popped task as fully processed. When the
// count of queued plus in-flight tasks reaches zero the Idle channel is
// closed. New tasks are only ever created by in-flight workers, so once the
// count hits zero it stays there.
func (q *TaskQueue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending <= 0 && !q.idled {
		q.idled = true
		close(q.idle)
	}
}

// Idle returns a channel closed when the queue has fully drained.
func (q *TaskQueue) Idle() <-chan struct{} {
	return q.idle
}

// Len reports the number of queued (not in-flight) tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
