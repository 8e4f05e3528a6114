package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, q *Queue, id string, status string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := q.Get(id)
		require.True(t, ok)
		if snap.Status == status {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, status)
	return Snapshot{}
}

func TestAddAndCompleteTask(t *testing.T) {
	q := New(2, nil)
	q.Register("video_summary", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		progress("extracting", 10)
		progress("done", 100)
		return map[string]any{"ok": true}, nil
	})

	id, err := q.Add("video_summary", map[string]any{"videoPath": "/a.mp4"})
	require.NoError(t, err)

	snap := waitForStatus(t, q, id, StatusCompleted)
	require.Equal(t, 100, snap.ProgressPercent)
	require.Equal(t, true, snap.Result["ok"])
}

func TestFailedHandlerSetsError(t *testing.T) {
	q := New(1, nil)
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	id, err := q.Add("t", nil)
	require.NoError(t, err)

	snap := waitForStatus(t, q, id, StatusFailed)
	require.Equal(t, "boom", snap.Error)
}

func TestPanicRecoveredAsFailure(t *testing.T) {
	q := New(1, nil)
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		panic("kaboom")
	})

	id, err := q.Add("t", nil)
	require.NoError(t, err)

	snap := waitForStatus(t, q, id, StatusFailed)
	require.Contains(t, snap.Error, "kaboom")
}

func TestCancelOnlyWhilePending(t *testing.T) {
	q := New(1, nil)
	block := make(chan struct{})
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		<-block
		return nil, nil
	})

	id, err := q.Add("t", nil)
	require.NoError(t, err)
	waitForStatus(t, q, id, StatusProcessing)

	require.False(t, q.Cancel(id))
	close(block)
	waitForStatus(t, q, id, StatusCompleted)
}

func TestCancelPendingTaskNeverRuns(t *testing.T) {
	q := New(1, nil)
	ran := make(chan struct{}, 1)

	block := make(chan struct{})
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		<-block
		ran <- struct{}{}
		return nil, nil
	})

	firstID, err := q.Add("t", nil)
	require.NoError(t, err)
	waitForStatus(t, q, firstID, StatusProcessing)

	secondID, err := q.Add("t", nil)
	require.NoError(t, err)

	require.True(t, q.Cancel(secondID))
	close(block)
	waitForStatus(t, q, firstID, StatusCompleted)

	snap, ok := q.Get(secondID)
	require.True(t, ok)
	require.Equal(t, StatusCancelled, snap.Status)
}

func TestFindActiveScansNonTerminalTasks(t *testing.T) {
	q := New(1, nil)
	block := make(chan struct{})
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		<-block
		return nil, nil
	})

	id, err := q.Add("t", map[string]any{"videoPath": "/a.mp4"})
	require.NoError(t, err)
	waitForStatus(t, q, id, StatusProcessing)

	found, ok := q.FindActive(func(data map[string]any) bool { return data["videoPath"] == "/a.mp4" })
	require.True(t, ok)
	require.Equal(t, id, found)

	_, ok = q.FindActive(func(data map[string]any) bool { return data["videoPath"] == "/missing.mp4" })
	require.False(t, ok)

	close(block)
}

func TestStatsCountsByStatus(t *testing.T) {
	q := New(2, nil)
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		return nil, nil
	})

	id, err := q.Add("t", nil)
	require.NoError(t, err)
	waitForStatus(t, q, id, StatusCompleted)

	stats := q.Stats()
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 2, stats.MaxWorkers)
	require.Equal(t, 1, stats.PerStatusCounts[StatusCompleted])
}

func TestCleanupDropsOldTerminalTasks(t *testing.T) {
	q := New(1, nil)
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		return nil, nil
	})

	id, err := q.Add("t", nil)
	require.NoError(t, err)
	waitForStatus(t, q, id, StatusCompleted)

	removed := q.Cleanup(0)
	require.Equal(t, 1, removed)

	_, ok := q.Get(id)
	require.False(t, ok)
}

func TestCloseWaitsForInFlightHandlers(t *testing.T) {
	q := New(1, nil)
	started := make(chan struct{})
	q.Register("t", func(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})

	_, err := q.Add("t", nil)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}
