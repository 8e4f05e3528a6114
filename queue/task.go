package queue

import (
	"sync"
	"time"
)

// Task status values, forming the DAG pending -> {processing, cancelled};
// processing -> {completed, failed}.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Task is the ephemeral, in-memory record of one enqueued unit of work.
// Fields are guarded by mu; readers must go through Snapshot rather than
// touching fields directly, since the owning worker writes progress
// concurrently with API reads.
type Task struct {
	mu sync.RWMutex

	id              string
	taskType        string
	data            map[string]any
	status          string
	progress        string
	progressPercent int
	createdAt       time.Time
	startedAt       *time.Time
	completedAt     *time.Time
	result          map[string]any
	err             string
}

// Snapshot is an immutable, safe-to-share copy of a Task's state.
type Snapshot struct {
	ID              string         `json:"taskId"`
	Type            string         `json:"type"`
	Data            map[string]any `json:"data"`
	Status          string         `json:"status"`
	Progress        string         `json:"progress"`
	ProgressPercent int            `json:"progressPercent"`
	CreatedAt       time.Time      `json:"createdAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func newTask(id, taskType string, data map[string]any) *Task {
	return &Task{
		id:        id,
		taskType:  taskType,
		data:      data,
		status:    StatusPending,
		createdAt: time.Now().UTC(),
	}
}

// Snapshot returns a copy of the task's current state under a read lock.
func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:              t.id,
		Type:            t.taskType,
		Data:            t.data,
		Status:          t.status,
		Progress:        t.progress,
		ProgressPercent: t.progressPercent,
		CreatedAt:       t.createdAt,
		StartedAt:       t.startedAt,
		CompletedAt:     t.completedAt,
		Result:          t.result,
		Error:           t.err,
	}
}

func (t *Task) statusIs(statuses ...string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range statuses {
		if t.status == s {
			return true
		}
	}
	return false
}

// markStarted transitions pending -> processing.
func (t *Task) markStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusProcessing
	started := time.Now().UTC()
	t.startedAt = &started
}

// markCancelled transitions pending -> cancelled; returns false if the
// task was not pending (cancellation is only honored while pending).
func (t *Task) markCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return false
	}
	t.status = StatusCancelled
	completed := time.Now().UTC()
	t.completedAt = &completed
	return true
}

// updateProgress clamps percent into [0, 100] and never lets it regress
// within a single run, per the progress-monotonicity property.
func (t *Task) updateProgress(message string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < t.progressPercent {
		percent = t.progressPercent
	}
	t.progress = message
	t.progressPercent = percent
}

func (t *Task) markCompleted(result map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusCompleted
	t.result = result
	t.progressPercent = 100
	completed := time.Now().UTC()
	t.completedAt = &completed
}

func (t *Task) markFailed(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusFailed
	t.err = message
	completed := time.Now().UTC()
	t.completedAt = &completed
}
