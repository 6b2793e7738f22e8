package transfer

import (
	"context"
	"errors"
	"sync"
)

// ErrTaskNotFound is returned for unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// Listener is notified after every task state change. It is called without
// the queue lock held.
type Listener func(task Snapshot)

// QueueStats holds statistics about the transfer queue.
type QueueStats struct {
	Queued       int
	Initializing int
	Active       int
	Paused       int
	Completed    int
	Failed       int
	Cancelled    int
	Bytes        int64
}

// Total returns total number of tasks in queue.
func (s QueueStats) Total() int {
	return s.Queued + s.Initializing + s.Active + s.Paused + s.Completed + s.Failed + s.Cancelled
}

// Queue is a passive tracker for the tasks of one command invocation. It
// does not execute transfers: callers register tasks, hand each task to an
// engine, and report the outcome. Pause, resume and cancel fan out to every
// tracked task.
type Queue struct {
	tasks     []*Task          // All tasks in creation order
	tasksByID map[string]*Task // Index by ID for quick lookup
	mu        sync.RWMutex

	ctx      context.Context
	listener Listener
}

// NewQueue creates a queue whose tasks derive their contexts from ctx.
// listener may be nil.
func NewQueue(ctx context.Context, listener Listener) *Queue {
	return &Queue{
		tasksByID: make(map[string]*Task),
		ctx:       ctx,
		listener:  listener,
	}
}

// Track registers a new task in the TaskQueued state.
func (q *Queue) Track(taskType TaskType, name, source, dest string, size int64) *Task {
	task := NewTask(q.ctx, taskType, name, source, dest, size)

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.tasksByID[task.ID] = task
	q.mu.Unlock()

	q.notify(task)
	return task
}

// Activate marks a queued task as initializing once it is admitted.
func (q *Queue) Activate(taskID string) {
	task := q.lookup(taskID)
	if task == nil {
		return
	}
	task.mu.Lock()
	changed := task.State == TaskQueued
	if changed {
		task.setStateLocked(TaskInitializing)
	}
	task.mu.Unlock()
	if changed {
		q.notify(task)
	}
}

// Complete marks a task as successfully completed.
func (q *Queue) Complete(taskID string) {
	if task := q.lookup(taskID); task != nil {
		task.Complete()
		q.notify(task)
	}
}

// Fail marks a task as failed with an error.
func (q *Queue) Fail(taskID string, err error) {
	if task := q.lookup(taskID); task != nil {
		task.SetError(err)
		q.notify(task)
	}
}

// Cancel cancels a task that has not yet finished.
func (q *Queue) Cancel(taskID string) error {
	task := q.lookup(taskID)
	if task == nil {
		return ErrTaskNotFound
	}
	if task.IsTerminal() {
		return errors.New("task already finished")
	}
	task.Cancel()
	q.notify(task)
	return nil
}

// CancelAll cancels every unfinished task.
func (q *Queue) CancelAll() {
	for _, task := range q.unfinished() {
		task.Cancel()
		q.notify(task)
	}
}

// PauseAll pauses every unfinished task.
func (q *Queue) PauseAll() {
	for _, task := range q.unfinished() {
		task.Pause()
		q.notify(task)
	}
}

// ResumeAll resumes every paused task.
func (q *Queue) ResumeAll() {
	for _, task := range q.unfinished() {
		if task.IsPaused() {
			task.Resume()
			q.notify(task)
		}
	}
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := QueueStats{}
	for _, task := range q.tasks {
		stats.Bytes += task.Bytes()
		switch task.GetState() {
		case TaskQueued:
			stats.Queued++
		case TaskInitializing:
			stats.Initializing++
		case TaskActive:
			stats.Active++
		case TaskPaused:
			stats.Paused++
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// GetTasks returns snapshots of all tasks for display.
func (q *Queue) GetTasks() []Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]Snapshot, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.Snapshot()
	}
	return result
}

// GetTask returns a snapshot of a specific task by ID.
func (q *Queue) GetTask(taskID string) (Snapshot, bool) {
	task := q.lookup(taskID)
	if task == nil {
		return Snapshot{}, false
	}
	return task.Snapshot(), true
}

func (q *Queue) lookup(taskID string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.tasksByID[taskID]
}

func (q *Queue) unfinished() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Task
	for _, task := range q.tasks {
		if !task.IsTerminal() {
			out = append(out, task)
		}
	}
	return out
}

func (q *Queue) notify(task *Task) {
	if q.listener != nil {
		q.listener(task.Snapshot())
	}
}
