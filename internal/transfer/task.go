// Package transfer tracks the state of individual uploads and downloads and
// carries the pause, cancel and progress signals the chunk engines observe.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/chunkvault/internal/constants"
)

// TaskType indicates whether a task is an upload or download.
type TaskType string

const (
	TaskTypeUpload   TaskType = "upload"
	TaskTypeDownload TaskType = "download"
)

// TaskState represents the current state of a transfer task.
type TaskState string

const (
	TaskQueued       TaskState = "queued"       // Waiting for an admission permit
	TaskInitializing TaskState = "initializing" // Admitted, preparing keys and metadata
	TaskActive       TaskState = "active"       // Actually transferring bytes
	TaskPaused       TaskState = "paused"       // Paused by user
	TaskCompleted    TaskState = "completed"    // Successfully completed
	TaskFailed       TaskState = "failed"       // Failed with error
	TaskCancelled    TaskState = "cancelled"    // Cancelled by user
)

// Task is one upload or download. It owns the cancellation context the
// engines run under and a pause gate they wait on between steps.
// Thread-safe: use the provided methods to update state.
type Task struct {
	ID   string   // Unique task ID
	Type TaskType // Upload or download

	Name   string // Display name (filename)
	Source string // Local path (upload) or object ID (download)
	Dest   string // Parent ID (upload) or local path (download)
	Size   int64  // Bytes expected

	// State tracking
	State    TaskState
	Progress float64 // 0.0 to 1.0
	Speed    float64 // bytes/sec (smoothed with EMA)
	Error    error

	bytes          int64     // cumulative bytes reported
	lastBytes      int64     // bytes at last speed sample
	lastUpdateTime time.Time // time of last speed sample

	// Timestamps
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	// resumed is closed while the task is running and replaced with an open
	// channel while paused.
	resumed  chan struct{}
	prePause TaskState
}

// NewTask creates a task in the TaskQueued state whose context derives from
// parent.
func NewTask(parent context.Context, taskType TaskType, name, source, dest string, size int64) *Task {
	ctx, cancel := context.WithCancel(parent)
	resumed := make(chan struct{})
	close(resumed)
	return &Task{
		ID:        generateTaskID(),
		Type:      taskType,
		Name:      name,
		Source:    source,
		Dest:      dest,
		Size:      size,
		State:     TaskQueued,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		resumed:   resumed,
	}
}

// GetState returns the current state (thread-safe).
func (t *Task) GetState() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// SetState updates the task state (thread-safe).
func (t *Task) SetState(state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStateLocked(state)
}

func (t *Task) setStateLocked(state TaskState) {
	t.State = state
	if state == TaskActive && t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	if isTerminal(state) {
		t.CompletedAt = time.Now()
	}
}

// Pause closes the gate: engines stop before their next fetch, encrypt,
// send or write step. Work already in hand is kept.
func (t *Task) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isTerminal(t.State) || t.State == TaskPaused {
		return
	}
	t.prePause = t.State
	t.State = TaskPaused
	t.resumed = make(chan struct{})
}

// Resume reopens the gate and wakes every waiting step.
func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != TaskPaused {
		return
	}
	t.State = t.prePause
	close(t.resumed)
}

// IsPaused reports whether the pause gate is closed.
func (t *Task) IsPaused() bool {
	return t.GetState() == TaskPaused
}

// WaitIfPaused blocks while the task is paused. It returns the context error
// if ctx or the task itself is cancelled, paused or not.
func (t *Task) WaitIfPaused(ctx context.Context) error {
	for {
		t.mu.RLock()
		gate := t.resumed
		paused := t.State == TaskPaused
		t.mu.RUnlock()

		if !paused {
			if err := ctx.Err(); err != nil {
				return err
			}
			return t.ctx.Err()
		}
		select {
		case <-gate:
			// Re-check: a Pause may have raced with the Resume.
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ctx.Done():
			return t.ctx.Err()
		}
	}
}

// AddBytes records n more transferred bytes and updates progress and the
// smoothed speed. Engines call it with incremental counts.
func (t *Task) AddBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bytes += n
	if t.Size > 0 {
		t.Progress = min(float64(t.bytes)/float64(t.Size), 1)
	}
	if t.State == TaskInitializing || t.State == TaskQueued {
		t.setStateLocked(TaskActive)
	}

	now := time.Now()
	if t.lastUpdateTime.IsZero() {
		t.lastUpdateTime = now
		t.lastBytes = t.bytes
		return
	}

	// Need at least 100ms between samples for a meaningful rate
	elapsed := now.Sub(t.lastUpdateTime).Seconds()
	if elapsed > 0.1 && t.bytes > t.lastBytes {
		instantRate := float64(t.bytes-t.lastBytes) / elapsed
		if t.Speed > 0 {
			t.Speed = constants.SpeedSmoothingAlpha*instantRate + (1-constants.SpeedSmoothingAlpha)*t.Speed
		} else {
			t.Speed = instantRate
		}
		t.lastBytes = t.bytes
		t.lastUpdateTime = now
	}
}

// Bytes returns the cumulative bytes reported so far.
func (t *Task) Bytes() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bytes
}

// GetProgress returns current progress (thread-safe).
func (t *Task) GetProgress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Progress
}

// GetSpeed returns current transfer speed in bytes/sec (thread-safe).
func (t *Task) GetSpeed() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Speed
}

// Complete marks the task as successfully completed.
func (t *Task) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Progress = 1
	t.setStateLocked(TaskCompleted)
	t.openGateLocked()
}

// SetError sets the error and changes state to TaskFailed (thread-safe).
func (t *Task) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Error = err
	t.setStateLocked(TaskFailed)
	t.openGateLocked()
}

// GetError returns the error if any (thread-safe).
func (t *Task) GetError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// Cancel aborts the task: its context is cancelled and every waiter on the
// pause gate is released.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
	if !isTerminal(t.State) {
		t.setStateLocked(TaskCancelled)
	}
	t.openGateLocked()
}

func (t *Task) openGateLocked() {
	select {
	case <-t.resumed:
	default:
		close(t.resumed)
	}
}

// Context returns the task's context for cancellation checking.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Snapshot is a point-in-time copy of a task's public state. It holds no
// locks and is safe to pass by value.
type Snapshot struct {
	ID     string
	Type   TaskType
	Name   string
	Source string
	Dest   string
	Size   int64

	State    TaskState
	Progress float64
	Speed    float64
	Bytes    int64
	Error    error

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Snapshot returns a copy of the task's public state for display.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.ID,
		Type:        t.Type,
		Name:        t.Name,
		Source:      t.Source,
		Dest:        t.Dest,
		Size:        t.Size,
		State:       t.State,
		Progress:    t.Progress,
		Speed:       t.Speed,
		Bytes:       t.bytes,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// IsTerminal returns true if the task is completed, failed or cancelled.
func (t *Task) IsTerminal() bool {
	return isTerminal(t.GetState())
}

func isTerminal(state TaskState) bool {
	return state == TaskCompleted || state == TaskFailed || state == TaskCancelled
}

func generateTaskID() string {
	return "task-" + uuid.NewString()
}
