// Package queue provides the bounded worker pool that drives a render.
//
// TaskQueue is an unbounded FIFO of (element, scope) tasks served by a fixed
// number of workers. A handler pushes the tasks for an element's children
// before it returns, so the queue only drains once the whole tree has been
// visited.
package queue

import (
	"sync"

	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/scope"
)

// Task is one element to process against the scope it is bound to.
type Task struct {
	Element *html.Node
	Scope   *scope.Scope
}

// TaskQueue holds pending tasks and tracks how many are still outstanding.
type TaskQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	// tasks waiting for a worker
	tasks []Task
	// outstanding counts queued plus in-flight tasks
	outstanding int
	// closed stops workers from waiting for more work
	closed bool
	// drained is closed once outstanding drops to zero after the first push
	drained chan struct{}
	started bool
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{drained: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a task. Push never blocks and is a no-op once the queue is
// closed.
func (q *TaskQueue) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.started = true
	q.outstanding++
	q.tasks = append(q.tasks, t)
	q.cond.Signal()
}

// next blocks until a task is available or the queue is closed.
func (q *TaskQueue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	return t, true
}

// done marks one task as finished.
func (q *TaskQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding == 0 && q.started && !q.closed {
		q.closed = true
		close(q.drained)
		q.cond.Broadcast()
	}
}

// Close stops the queue and discards pending tasks.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.tasks = nil
	q.cond.Broadcast()
}

// Drained is closed when every pushed task has completed.
func (q *TaskQueue) Drained() <-chan struct{} {
	return q.drained
}

// Stats returns a snapshot of the queue length and outstanding count.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Pending: len(q.tasks), Outstanding: q.outstanding, Closed: q.closed}
}

// QueueStats is a point-in-time view of a TaskQueue.
type QueueStats struct {
	Pending     int
	Outstanding int
	Closed      bool
}
