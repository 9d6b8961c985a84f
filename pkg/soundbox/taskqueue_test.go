package soundbox

import (
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) *taskQueue {
	t.Helper()
	q := newTaskQueue(zap.NewNop().Sugar())
	t.Cleanup(q.stop)
	return q
}

func TestTaskQueueExecutesTasks(t *testing.T) {
	q := newTestQueue(t)

	var ran int32
	stream := &fakeStream{}

	q.push(taskKey{stream: stream, kind: taskFinish}, func() {
		atomic.AddInt32(&ran, 1)
	})
	q.flush()

	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("expected task to run once, got %d", got)
	}
}

func TestTaskQueueDeduplicatesByKey(t *testing.T) {
	q := newTestQueue(t)

	var ran int32
	stream := &fakeStream{}

	// block the worker so pushes with the same key pile up while pending
	gate := make(chan struct{})
	q.push(taskKey{stream: stream, kind: taskProgress}, func() { <-gate })

	for i := 0; i < 10; i++ {
		q.push(taskKey{stream: stream, kind: taskFinish}, func() {
			atomic.AddInt32(&ran, 1)
		})
	}

	close(gate)
	q.flush()

	if got := atomic.LoadInt32(&ran); got != 1 {
		t.Errorf("expected de-duplicated task to run once, got %d", got)
	}
}

func TestTaskQueueDistinctKeysAllRun(t *testing.T) {
	q := newTestQueue(t)

	var ran int32
	gate := make(chan struct{})
	q.push(taskKey{stream: &fakeStream{}, kind: taskProgress}, func() { <-gate })

	for i := 0; i < 5; i++ {
		q.push(taskKey{stream: &fakeStream{}, kind: taskFinish}, func() {
			atomic.AddInt32(&ran, 1)
		})
	}

	close(gate)
	q.flush()

	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Errorf("expected all 5 tasks to run, got %d", got)
	}
}

func TestTaskQueueKeyReusableAfterExecution(t *testing.T) {
	q := newTestQueue(t)

	var ran int32
	stream := &fakeStream{}
	key := taskKey{stream: stream, kind: taskFinish}

	q.push(key, func() { atomic.AddInt32(&ran, 1) })
	q.flush()
	q.push(key, func() { atomic.AddInt32(&ran, 1) })
	q.flush()

	if got := atomic.LoadInt32(&ran); got != 2 {
		t.Errorf("expected key to be reusable after execution, got %d runs", got)
	}
}

func TestTaskQueueStopDiscardsQueued(t *testing.T) {
	q := newTaskQueue(zap.NewNop().Sugar())

	gate := make(chan struct{})
	q.push(taskKey{stream: &fakeStream{}, kind: taskProgress}, func() { <-gate })

	var ran int32
	q.push(taskKey{stream: &fakeStream{}, kind: taskFinish}, func() {
		atomic.AddInt32(&ran, 1)
	})

	// request the stop while the worker is still blocked in the first task,
	// so the second task is guaranteed to be discarded
	stopDone := make(chan struct{})
	go func() {
		q.stop()
		close(stopDone)
	}()
	for {
		q.mu.Lock()
		stopped := q.stopped
		q.mu.Unlock()
		if stopped {
			break
		}
	}

	close(gate)
	<-stopDone

	// pushes after stop are ignored
	q.push(taskKey{stream: &fakeStream{}, kind: taskFinish}, func() {
		atomic.AddInt32(&ran, 1)
	})

	if got := atomic.LoadInt32(&ran); got != 0 {
		t.Errorf("expected no queued tasks to run after stop, got %d", got)
	}
}
