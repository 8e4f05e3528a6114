package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gitmonke/go-video-summary/adapters"
	"github.com/gitmonke/go-video-summary/config"
	"github.com/gitmonke/go-video-summary/queue"
	"github.com/gitmonke/go-video-summary/store"
)

type fakeExtractor struct {
	result adapters.ExtractResult
}

func (f *fakeExtractor) Extract(ctx context.Context, videoPath, outDir string, timeout time.Duration) adapters.ExtractResult {
	return f.result
}

type fakeTranscriber struct {
	result adapters.TranscribeResult
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, language string) adapters.TranscribeResult {
	return f.result
}

type fakeSummarizer struct {
	result     adapters.SummarizeResult
	jumpPoints []adapters.JumpPoint
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript, modelName string) adapters.SummarizeResult {
	return f.result
}

func (f *fakeSummarizer) GenerateJumpPoints(ctx context.Context, segments []adapters.JumpPointSegment, modelName string, maxPoints int) []adapters.JumpPoint {
	return f.jumpPoints
}

func (f *fakeSummarizer) Health(ctx context.Context) adapters.HealthResult {
	return adapters.HealthResult{Healthy: true}
}

func (f *fakeSummarizer) Pull(ctx context.Context, modelName string) adapters.PullResult {
	return adapters.PullResult{Ok: true}
}

func newTestEngine(t *testing.T, extractor Extractor, transcriber Transcriber, summarizer Summarizer) *Engine {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)

	q := queue.New(2, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Close(ctx)
	})

	cfg := &config.Config{
		LLMModel:             "llama3:13b",
		WhisperModel:         "base",
		MaxTranscriptChars:   50000,
		PromptBudgetChars:    15000,
		ExtractorTimeoutSec:  5,
		SummarizerTimeoutSec: 5,
	}

	return New(st, q, extractor, transcriber, summarizer, cfg, nil)
}

func waitForTerminal(t *testing.T, e *Engine, taskID string) queue.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := e.Status(taskID)
		require.True(t, ok)
		if snap.Status == queue.StatusCompleted || snap.Status == queue.StatusFailed {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", taskID)
	return queue.Snapshot{}
}

func withTempVideoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0o644))
	return path
}

func TestHappyPath(t *testing.T) {
	duration := 150.45
	e := newTestEngine(t,
		&fakeExtractor{result: adapters.ExtractResult{Ok: true, AudioPath: "/tmp/a.wav", DurationSeconds: &duration}},
		&fakeTranscriber{result: adapters.TranscribeResult{
			Ok:   true,
			Text: "hello world. welcome.",
			Segments: []adapters.Segment{
				{Start: 0, End: 5, Text: "hello world."},
				{Start: 5, End: 10, Text: "welcome."},
			},
			Language: "en",
		}},
		&fakeSummarizer{result: adapters.SummarizeResult{Ok: true, Summary: "• KEY POINTS\n• hello\n• welcome"}},
	)

	videoPath := withTempVideoFile(t)
	start, err := e.Start(videoPath, false, "llama3:13b")
	require.NoError(t, err)
	require.True(t, start.Ok)

	snap := waitForTerminal(t, e, start.TaskID)
	require.Equal(t, queue.StatusCompleted, snap.Status)

	latest, err := e.GetLatest(videoPath)
	require.NoError(t, err)
	require.True(t, latest.Found)
	require.Equal(t, store.StatusCompleted, latest.Summary.Status)
	require.Equal(t, "whisper-base+llama3:13b", latest.Summary.ModelUsed)
	require.Len(t, latest.Versions, 1)
	require.Equal(t, 1, latest.Versions[0].Version)
	require.LessOrEqual(t, len(latest.Summary.JumpPoints), 8)
}

func TestDuplicateRejection(t *testing.T) {
	e := newTestEngine(t,
		&fakeExtractor{result: adapters.ExtractResult{Ok: true, AudioPath: "/tmp/a.wav"}},
		&fakeTranscriber{result: adapters.TranscribeResult{Ok: true, Text: "hello."}},
		&fakeSummarizer{result: adapters.SummarizeResult{Ok: true, Summary: "• point"}},
	)

	videoPath := withTempVideoFile(t)
	start, err := e.Start(videoPath, false, "")
	require.NoError(t, err)
	waitForTerminal(t, e, start.TaskID)

	again, err := e.Start(videoPath, false, "")
	require.NoError(t, err)
	require.False(t, again.Ok)
	require.Equal(t, "already exists", again.Reason)
	require.NotNil(t, again.Existing)
	require.Equal(t, store.StatusCompleted, again.Existing.Status)
}

func TestForcedRerunAppendsVersion(t *testing.T) {
	e := newTestEngine(t,
		&fakeExtractor{result: adapters.ExtractResult{Ok: true, AudioPath: "/tmp/a.wav"}},
		&fakeTranscriber{result: adapters.TranscribeResult{Ok: true, Text: "hello."}},
		&fakeSummarizer{result: adapters.SummarizeResult{Ok: true, Summary: "• point"}},
	)

	videoPath := withTempVideoFile(t)
	first, err := e.Start(videoPath, false, "")
	require.NoError(t, err)
	waitForTerminal(t, e, first.TaskID)

	second, err := e.Start(videoPath, true, "")
	require.NoError(t, err)
	require.True(t, second.Ok)
	waitForTerminal(t, e, second.TaskID)

	versions, err := e.ListVersions(videoPath)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, 1, versions[0].Version)
	require.Equal(t, 2, versions[1].Version)
}

func TestNoAudioMarksSummaryNoAudioNotFailed(t *testing.T) {
	e := newTestEngine(t,
		&fakeExtractor{result: adapters.ExtractResult{Err: &adapters.AdapterError{
			Kind: adapters.KindNoAudio, Message: "audio extraction produced empty file - video may have no audio track",
		}}},
		&fakeTranscriber{},
		&fakeSummarizer{},
	)

	videoPath := withTempVideoFile(t)
	start, err := e.Start(videoPath, false, "")
	require.NoError(t, err)

	snap := waitForTerminal(t, e, start.TaskID)
	require.Equal(t, queue.StatusFailed, snap.Status)

	latest, err := e.GetLatest(videoPath)
	require.NoError(t, err)
	require.True(t, latest.Found)
	require.Equal(t, store.StatusNoAudio, latest.Summary.Status)
	require.Contains(t, latest.Summary.ErrorMessage, "no audio track")

	versions, err := e.ListVersions(videoPath)
	require.NoError(t, err)
	require.Empty(t, versions)
}

func TestSummarizerTransientFailureAllowsForcedRetry(t *testing.T) {
	e := newTestEngine(t,
		&fakeExtractor{result: adapters.ExtractResult{Ok: true, AudioPath: "/tmp/a.wav"}},
		&fakeTranscriber{result: adapters.TranscribeResult{Ok: true, Text: "hello."}},
		&fakeSummarizer{result: adapters.SummarizeResult{Err: &adapters.AdapterError{
			Kind: adapters.KindAdapterTransient, Message: "connection refused talking to ollama",
		}}},
	)

	videoPath := withTempVideoFile(t)
	start, err := e.Start(videoPath, false, "")
	require.NoError(t, err)

	snap := waitForTerminal(t, e, start.TaskID)
	require.Equal(t, queue.StatusFailed, snap.Status)

	latest, err := e.GetLatest(videoPath)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, latest.Summary.Status)
	require.Contains(t, latest.Summary.ErrorMessage, "connection")
	require.Empty(t, latest.Versions)

	retry, err := e.Start(videoPath, true, "")
	require.NoError(t, err)
	require.True(t, retry.Ok)
}

func TestAdmissionRaceAllowsOnlyOneActiveTask(t *testing.T) {
	e := newTestEngine(t,
		&fakeExtractor{result: adapters.ExtractResult{Ok: true, AudioPath: "/tmp/a.wav"}},
		&fakeTranscriber{result: adapters.TranscribeResult{Ok: true, Text: "hello."}},
		&fakeSummarizer{result: adapters.SummarizeResult{Ok: true, Summary: "• point"}},
	)

	videoPath := withTempVideoFile(t)

	results := make([]StartResult, 2)
	errs := make([]error, 2)
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			results[i], errs[i] = e.Start(videoPath, false, "")
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	okCount := 0
	for _, r := range results {
		if r.Ok {
			okCount++
		} else {
			require.Equal(t, "already in progress", r.Reason)
		}
	}
	require.Equal(t, 1, okCount)
}

func TestComposeModelUsedFormat(t *testing.T) {
	require.Equal(t, "whisper-base+llama3.2:13b", composeModelUsed("base", "llama3.2:13b"))
}

func TestSplitTranscriptStripsJumpPointsSuffix(t *testing.T) {
	points := []adapters.JumpPoint{{Seconds: 5, Title: "intro"}}
	encoded, err := json.Marshal(points)
	require.NoError(t, err)
	stored := "hello world." + jumpPointsSeparator + string(encoded)

	transcript, parsed := splitTranscript(stored)
	require.Equal(t, "hello world.", transcript)
	require.Equal(t, points, parsed)
}

func TestSplitTranscriptWithoutSuffixPassesThrough(t *testing.T) {
	transcript, parsed := splitTranscript("plain transcript, no jump points")
	require.Equal(t, "plain transcript, no jump points", transcript)
	require.Nil(t, parsed)
}

func TestComputeJumpPointsHeuristicIsChronologicalAndBounded(t *testing.T) {
	segments := []adapters.Segment{
		{Start: 0, End: 25, Text: "Introduction and overview of the topic for today's demo."},
		{Start: 25, End: 50, Text: "Now let's install and configure the tool step by step."},
		{Start: 50, End: 75, Text: strings.Repeat("background context with no strong signal. ", 6)},
		{Start: 75, End: 100, Text: "In conclusion, here is a quick recap and summary of best practice tips."},
	}
	points := computeJumpPointsHeuristic(segments)
	require.NotEmpty(t, points)
	require.LessOrEqual(t, len(points), 8)
	for i := 1; i < len(points); i++ {
		require.LessOrEqual(t, points[i-1].Seconds, points[i].Seconds)
	}
}
