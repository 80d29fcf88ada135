package controller

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	taskPending int32 = iota
	taskFired
	taskCancelled
)

// Task is a scheduled call that can be cancelled until it fires.
type Task struct {
	timer *time.Timer
	state atomic.Int32
}

// Cancel prevents the task from running. It reports whether the call was
// stopped; false means it already fired or was cancelled.
func (t *Task) Cancel() bool {
	if !t.state.CompareAndSwap(taskPending, taskCancelled) {
		return false
	}
	t.timer.Stop()
	return true
}

// Debouncer holds at most one pending task. Scheduling a new task cancels
// the previous one.
type Debouncer struct {
	mu      sync.Mutex
	pending *Task
}

// Schedule runs fn after delay on its own goroutine unless another call to
// Schedule or Cancel happens first.
func (d *Debouncer) Schedule(delay time.Duration, fn func()) *Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Cancel()
	}

	task := &Task{}
	task.timer = time.AfterFunc(delay, func() {
		if !task.state.CompareAndSwap(taskPending, taskFired) {
			return
		}
		d.release(task)
		fn()
	})
	d.pending = task

	return task
}

// Cancel drops the pending task, if any. A task that already started is not
// interrupted.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return false
	}
	stopped := d.pending.Cancel()
	d.pending = nil
	return stopped
}

// Pending reports whether a task is waiting to fire.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pending != nil && d.pending.state.Load() == taskPending
}

func (d *Debouncer) release(task *Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == task {
		d.pending = nil
	}
}
