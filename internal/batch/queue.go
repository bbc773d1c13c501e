package batch

import (
	"sync"
	"sync/atomic"
)

// jobQueue is a FIFO of pending tasks shared by the worker pool.
// Capacity equals the number of admitted tasks, so a retry re-enqueue
// never blocks: at most every live task can be queued at once. The
// channel closes exactly once, when every admitted task has reached a
// terminal state.
type jobQueue struct {
	tasks       chan *Task
	outstanding atomic.Int64
	closeOnce   sync.Once
}

func newJobQueue(capacity int) *jobQueue {
	q := &jobQueue{tasks: make(chan *Task, capacity)}
	q.outstanding.Store(int64(capacity))
	return q
}

func (q *jobQueue) push(t *Task) {
	q.tasks <- t
}

// taskDone records one task reaching a terminal state and closes the
// queue when none remain.
func (q *jobQueue) taskDone() {
	if q.outstanding.Add(-1) == 0 {
		q.close()
	}
}

func (q *jobQueue) close() {
	q.closeOnce.Do(func() { close(q.tasks) })
}

// drain empties queued tasks after the workers have stopped. Safe only
// once no worker can push.
func (q *jobQueue) drain() []*Task {
	q.close()
	var rest []*Task
	for t := range q.tasks {
		rest = append(rest, t)
	}
	return rest
}
