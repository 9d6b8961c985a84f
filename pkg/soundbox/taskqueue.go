package soundbox

import (
	"sync"

	"go.uber.org/zap"
)

// taskKind distinguishes the deferred tasks queued for a single stream.
type taskKind int

const (
	taskFinish taskKind = iota
	taskProgress
)

// taskKey identifies a pending task for de-duplication purposes. At most one
// task per (stream, kind) pair is queued at a time.
type taskKey struct {
	stream Stream
	kind   taskKind
}

type queuedTask struct {
	key taskKey
	run func()
}

// taskQueue executes deferred tasks on a single dedicated worker goroutine.
// The real-time callback uses it to get completion and progress notifications
// off the audio thread; pushing never blocks beyond a short critical section.
type taskQueue struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[taskKey]struct{}
	tasks   []queuedTask
	running bool
	stopped bool
	done    chan struct{}
}

func newTaskQueue(logger *zap.SugaredLogger) *taskQueue {
	q := &taskQueue{
		logger:  logger.Named("tasks"),
		pending: make(map[taskKey]struct{}),
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.worker()

	return q
}

// push schedules fn for execution unless a task with the same key is already
// queued. Safe to call from the real-time callback thread.
func (q *taskQueue) push(key taskKey, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	if _, exists := q.pending[key]; exists {
		return
	}

	q.pending[key] = struct{}{}
	q.tasks = append(q.tasks, queuedTask{key: key, run: fn})
	q.cond.Broadcast()
}

// flush blocks until all currently queued tasks have executed.
func (q *taskQueue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) > 0 || q.running {
		q.cond.Wait()
	}
}

// stop shuts down the worker after it finishes the task in flight. Remaining
// queued tasks are discarded.
func (q *taskQueue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
	q.logger.Debug("Task queue stopped")
}

func (q *taskQueue) worker() {
	q.mu.Lock()
	for {
		for len(q.tasks) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			close(q.done)
			return
		}

		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		delete(q.pending, task.key)
		q.running = true
		q.mu.Unlock()

		task.run()

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
	}
}
