// Package queue is the in-process Task Queue: a bounded worker pool
// draining a FIFO of pending task ids, with task lifecycle, progress, and
// result tracking safe for concurrent API reads.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler runs one task to completion. progress lets the handler report
// incremental status; it is safe to call concurrently with readers.
type Handler func(ctx context.Context, data map[string]any, progress func(message string, percent int)) (map[string]any, error)

// Stats is the aggregate view backing /summary/stats-adjacent monitoring.
type Stats struct {
	Total           int            `json:"total"`
	Pending         int            `json:"pending"`
	Active          int            `json:"active"`
	PerStatusCounts map[string]int `json:"perStatusCounts"`
	MaxWorkers      int            `json:"maxWorkers"`
}

// Queue is an explicitly constructed value, built once at startup, rather
// than a package-level singleton.
type Queue struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	handlers map[string]Handler

	pending    chan string
	sem        chan struct{}
	maxWorkers int

	wg     sync.WaitGroup
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Queue and starts its dispatcher goroutine. maxWorkers
// bounds how many handlers may run concurrently.
func New(maxWorkers int, logger *slog.Logger) *Queue {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		tasks:      make(map[string]*Task),
		handlers:   make(map[string]Handler),
		pending:    make(chan string, 1024),
		sem:        make(chan struct{}, maxWorkers),
		maxWorkers: maxWorkers,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	go q.dispatch()
	return q
}

// Register binds a handler for a task type. Must be called before any Add
// of that type.
func (q *Queue) Register(taskType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = handler
}

// Add creates a pending task and enqueues its id for dispatch.
func (q *Queue) Add(taskType string, data map[string]any) (string, error) {
	if q.ctx.Err() != nil {
		return "", fmt.Errorf("queue: closed")
	}
	q.mu.Lock()
	if _, ok := q.handlers[taskType]; !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("queue: no handler registered for type %q", taskType)
	}
	task := newTask(uuid.New().String(), taskType, data)
	q.tasks[task.id] = task
	q.mu.Unlock()

	select {
	case q.pending <- task.id:
	case <-q.ctx.Done():
		return "", fmt.Errorf("queue: closed")
	}

	return task.id, nil
}

// Get returns a snapshot of a task's current state.
func (q *Queue) Get(taskID string) (Snapshot, bool) {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	q.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return task.Snapshot(), true
}

// Cancel succeeds only if the task is still pending.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	return task.markCancelled()
}

// FindActive returns the id of the first non-terminal task for which
// predicate(data) is true, implementing the Coordinator's
// FindActiveTask(videoPath) linear scan.
func (q *Queue) FindActive(predicate func(data map[string]any) bool) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, task := range q.tasks {
		if task.statusIs(StatusPending, StatusProcessing) && predicate(task.data) {
			return id, true
		}
	}
	return "", false
}

// Stats reports queue-wide counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		PerStatusCounts: map[string]int{},
		MaxWorkers:      q.maxWorkers,
		Total:           len(q.tasks),
	}
	for _, task := range q.tasks {
		snap := task.Snapshot()
		stats.PerStatusCounts[snap.Status]++
		switch snap.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Active++
		}
	}
	return stats
}

// Cleanup drops tasks in a terminal state whose completion is older than
// maxAge.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, task := range q.tasks {
		snap := task.Snapshot()
		terminal := snap.Status == StatusCompleted || snap.Status == StatusFailed || snap.Status == StatusCancelled
		if terminal && snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			removed++
		}
	}
	return removed
}

// Close stops accepting new dispatch and waits for in-flight handlers up
// to ctx's deadline.
func (q *Queue) Close(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) dispatch() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.pending:
			select {
			case q.sem <- struct{}{}:
			case <-q.ctx.Done():
				return
			}
			q.wg.Add(1)
			go q.run(id)
		}
	}
}

func (q *Queue) run(id string) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	q.mu.Lock()
	task, ok := q.tasks[id]
	handler, hasHandler := q.handlers[task.taskType]
	q.mu.Unlock()
	if !ok {
		return
	}

	if !task.statusIs(StatusPending) {
		return // cancelled while waiting in the FIFO
	}
	if !hasHandler {
		task.markFailed(fmt.Sprintf("queue: no handler registered for type %q", task.taskType))
		return
	}

	task.markStarted()

	result, err := q.runHandlerSafely(handler, task)
	if err != nil {
		task.markFailed(err.Error())
		if q.logger != nil {
			q.logger.Error("task handler failed", "taskId", id, "error", err)
		}
		return
	}
	task.markCompleted(result)
}

// runHandlerSafely recovers a handler panic into an error, scoped
// per-task rather than per-dispatcher-stage.
func (q *Queue) runHandlerSafely(handler Handler, task *Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	result, err = handler(q.ctx, task.data, func(message string, percent int) {
		task.updateProgress(message, percent)
	})
	return result, err
}
