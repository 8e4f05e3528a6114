// Package engine is the Coordinator: it owns admission control, the
// hot-path handler that drives the extractor/transcriber/summarizer
// pipeline, and the read-side queries backing the HTTP surface.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gitmonke/go-video-summary/adapters"
	"github.com/gitmonke/go-video-summary/config"
	"github.com/gitmonke/go-video-summary/queue"
	"github.com/gitmonke/go-video-summary/store"
)

const taskTypeVideoSummary = "video_summary"

// Extractor is the subset of adapters.Extractor the Coordinator depends on.
type Extractor interface {
	Extract(ctx context.Context, videoPath, outDir string, timeout time.Duration) adapters.ExtractResult
}

// Transcriber is the subset of adapters.Transcriber the Coordinator depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) adapters.TranscribeResult
}

// Summarizer is the subset of adapters.Summarizer the Coordinator depends on.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, modelName string) adapters.SummarizeResult
	GenerateJumpPoints(ctx context.Context, segments []adapters.JumpPointSegment, modelName string, maxPoints int) []adapters.JumpPoint
	Health(ctx context.Context) adapters.HealthResult
	Pull(ctx context.Context, modelName string) adapters.PullResult
}

// Engine is the explicit, once-constructed Coordinator value, built at
// startup instead of relying on a lazily-initialized global.
type Engine struct {
	store       *store.Store
	queue       *queue.Queue
	extractor   Extractor
	transcriber Transcriber
	summarizer  Summarizer
	cfg         *config.Config
	logger      *slog.Logger
}

func New(st *store.Store, q *queue.Queue, extractor Extractor, transcriber Transcriber, summarizer Summarizer, cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		store:       st,
		queue:       q,
		extractor:   extractor,
		transcriber: transcriber,
		summarizer:  summarizer,
		cfg:         cfg,
		logger:      logger,
	}
	q.Register(taskTypeVideoSummary, e.runTask)
	return e
}

// StartResult is the tagged result of Start.
type StartResult struct {
	Ok       bool
	TaskID   string
	Reason   string
	Existing *store.Summary
}

// Start admits a video for summarization under the §4.2 admission rules,
// enqueueing a task on success.
func (e *Engine) Start(videoPath string, force bool, modelName string) (StartResult, error) {
	if videoPath == "" {
		return StartResult{}, &adapters.AdapterError{Kind: adapters.KindInputError, Message: "videoPath is required"}
	}
	if _, err := os.Stat(videoPath); err != nil {
		return StartResult{}, &adapters.AdapterError{Kind: adapters.KindInputError, Message: "video file not found"}
	}

	decision, err := e.store.Admit(videoPath, force)
	if err != nil {
		return StartResult{}, fmt.Errorf("engine: admit %s: %w", videoPath, err)
	}

	switch decision.Outcome {
	case store.AdmitAlreadyCompleted:
		existing := decision.Summary
		return StartResult{Ok: false, Reason: "already exists", Existing: &existing}, nil
	case store.AdmitAlreadyInProgress:
		existing := decision.Summary
		return StartResult{Ok: false, Reason: "already in progress", Existing: &existing}, nil
	}

	taskID, err := e.queue.Add(taskTypeVideoSummary, map[string]any{
		"videoPath": videoPath,
		"modelName": modelName,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("engine: enqueue %s: %w", videoPath, err)
	}
	return StartResult{Ok: true, TaskID: taskID}, nil
}

// Status passes through to the Task Queue.
func (e *Engine) Status(taskID string) (queue.Snapshot, bool) {
	return e.queue.Get(taskID)
}

// FindActiveTask scans the Task Queue for a non-terminal task on videoPath.
func (e *Engine) FindActiveTask(videoPath string) (string, bool) {
	return e.queue.FindActive(func(data map[string]any) bool {
		return data["videoPath"] == videoPath
	})
}

// SummaryView is the read-side shape for a single summary, with the
// jump-points suffix already split out of the transcript column.
type SummaryView struct {
	VideoPath             string               `json:"videoPath"`
	Status                string               `json:"status"`
	Summary               string               `json:"summary,omitempty"`
	Transcript            string               `json:"transcript,omitempty"`
	JumpPoints            []adapters.JumpPoint `json:"jumpPoints,omitempty"`
	ModelUsed             string               `json:"modelUsed,omitempty"`
	AudioDurationSeconds  *float64             `json:"audioDurationSeconds,omitempty"`
	ProcessingTimeSeconds *float64             `json:"processingTimeSeconds,omitempty"`
	ErrorMessage          string               `json:"errorMessage,omitempty"`
	GeneratedAt           time.Time            `json:"generatedAt"`
}

func viewFromSummary(row store.Summary) SummaryView {
	transcript, points := splitTranscript(deref(row.Transcript))
	return SummaryView{
		VideoPath:             row.VideoPath,
		Status:                row.Status,
		Summary:               deref(row.Summary),
		Transcript:            transcript,
		JumpPoints:            points,
		ModelUsed:             row.ModelUsed,
		AudioDurationSeconds:  row.AudioDurationSeconds,
		ProcessingTimeSeconds: row.ProcessingTimeSeconds,
		ErrorMessage:          deref(row.ErrorMessage),
		GeneratedAt:           row.GeneratedAt,
	}
}

func viewFromVersion(videoPath string, v store.SummaryVersion) SummaryView {
	transcript, points := splitTranscript(deref(v.Transcript))
	return SummaryView{
		VideoPath:             videoPath,
		Status:                store.StatusCompleted,
		Summary:               deref(v.Summary),
		Transcript:            transcript,
		JumpPoints:            points,
		ModelUsed:             v.ModelUsed,
		ProcessingTimeSeconds: v.ProcessingTimeSeconds,
		GeneratedAt:           v.GeneratedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetLatestResult is the tagged result of GetLatest.
type GetLatestResult struct {
	Found    bool
	Summary  SummaryView
	Versions []store.VersionDescriptor
}

// GetLatest returns the latest summary for videoPath plus its version
// history, self-healing a missing version-1 row for completed summaries
// that predate version tracking.
func (e *Engine) GetLatest(videoPath string) (GetLatestResult, error) {
	row, err := e.store.FindByPath(videoPath)
	if err != nil {
		return GetLatestResult{}, fmt.Errorf("engine: lookup %s: %w", videoPath, err)
	}
	if row == nil {
		return GetLatestResult{}, nil
	}

	if row.Status == store.StatusCompleted {
		count, err := e.store.CountVersions(row.VideoPath)
		if err != nil {
			return GetLatestResult{}, fmt.Errorf("engine: count versions %s: %w", row.VideoPath, err)
		}
		if count == 0 {
			if _, err := e.store.BackfillVersion1(*row); err != nil {
				return GetLatestResult{}, fmt.Errorf("engine: backfill version 1 %s: %w", row.VideoPath, err)
			}
		}
	}

	versions, err := e.store.ListVersions(row.VideoPath)
	if err != nil {
		return GetLatestResult{}, fmt.Errorf("engine: list versions %s: %w", row.VideoPath, err)
	}

	return GetLatestResult{Found: true, Summary: viewFromSummary(*row), Versions: versions}, nil
}

// GetVersion returns one specific version's body, tolerant of path form.
func (e *Engine) GetVersion(videoPath string, version int) (SummaryView, bool, error) {
	row, err := e.store.GetVersion(videoPath, version)
	if err != nil {
		return SummaryView{}, false, fmt.Errorf("engine: get version %s/%d: %w", videoPath, version, err)
	}
	if row == nil {
		return SummaryView{}, false, nil
	}
	return viewFromVersion(videoPath, *row), true, nil
}

// ListVersions returns tolerant version descriptors for videoPath.
func (e *Engine) ListVersions(videoPath string) ([]store.VersionDescriptor, error) {
	return e.store.ListVersions(videoPath)
}

// Delete purges the Summary row for videoPath (version history is
// retained, per the store's Delete semantics).
func (e *Engine) Delete(videoPath string) (bool, error) {
	return e.store.Delete(videoPath)
}

// Stats reports aggregate counts and timing across all summaries.
func (e *Engine) Stats() (store.StoreStats, error) {
	return e.store.Stats()
}

// Health reports external-worker liveness for /ai-health.
func (e *Engine) Health(ctx context.Context) adapters.HealthResult {
	return e.summarizer.Health(ctx)
}

// Pull asks the summarizer's backing model server to download modelName.
func (e *Engine) Pull(ctx context.Context, modelName string) adapters.PullResult {
	return e.summarizer.Pull(ctx, modelName)
}

// runTask is the hot-path handler registered with the Task Queue. It is
// kept as one top-to-bottom function, with the jump-point heuristic and
// modelUsed composition pulled out as pure, independently testable
// helpers.
func (e *Engine) runTask(ctx context.Context, data map[string]any, progress func(string, int)) (map[string]any, error) {
	videoPath, _ := data["videoPath"].(string)
	modelName, _ := data["modelName"].(string)
	if modelName == "" {
		modelName = e.cfg.LLMModel
	}

	startedAt := time.Now()

	if err := e.store.SetProcessing(videoPath); err != nil {
		return nil, fmt.Errorf("engine: mark processing: %w", err)
	}
	progress("starting", 0)

	tempDir, err := os.MkdirTemp("", "summaryengine-*")
	if err != nil {
		e.fail(videoPath, fmt.Sprintf("could not allocate temp directory: %v", err))
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	extractorTimeout := time.Duration(e.cfg.ExtractorTimeoutSec) * time.Second
	extracted := e.extractor.Extract(ctx, videoPath, tempDir, extractorTimeout)
	if extracted.Err != nil {
		if extracted.Err.Kind == adapters.KindNoAudio {
			if err := e.store.SetNoAudio(videoPath, extracted.Err.Message); err != nil {
				e.logFailure("set no_audio", videoPath, err)
			}
			return nil, extracted.Err
		}
		e.fail(videoPath, extracted.Err.Message)
		return nil, extracted.Err
	}
	progress("extracted audio", 20)

	transcribed := e.transcriber.Transcribe(ctx, extracted.AudioPath, "")
	if transcribed.Err != nil {
		e.fail(videoPath, transcribed.Err.Message)
		return nil, transcribed.Err
	}
	progress("transcribed", 50)

	summarizerTimeout := time.Duration(e.cfg.SummarizerTimeoutSec) * time.Second
	summarizeCtx, cancelSummarize := context.WithTimeout(ctx, summarizerTimeout)
	summarized := e.summarizer.Summarize(summarizeCtx, transcribed.Text, modelName)
	cancelSummarize()
	if summarized.Err != nil {
		e.fail(videoPath, summarized.Err.Message)
		return nil, summarized.Err
	}
	progress("summarized", 85)

	jumpSegments := make([]adapters.JumpPointSegment, 0, len(transcribed.Segments))
	for _, seg := range transcribed.Segments {
		jumpSegments = append(jumpSegments, adapters.JumpPointSegment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	jumpCtx, cancelJump := context.WithTimeout(ctx, summarizerTimeout)
	points := e.summarizer.GenerateJumpPoints(jumpCtx, jumpSegments, modelName, 8)
	cancelJump()
	if len(points) == 0 {
		points = computeJumpPointsHeuristic(transcribed.Segments)
	}

	persistedTranscript, err := appendJumpPoints(transcribed.Text, points)
	if err != nil {
		e.fail(videoPath, err.Error())
		return nil, err
	}

	modelUsed := composeModelUsed(e.cfg.WhisperModel, modelName)
	processingSeconds := time.Since(startedAt).Seconds()

	version, err := e.store.Complete(videoPath, store.CompleteResult{
		Summary:               summarized.Summary,
		Transcript:            persistedTranscript,
		ModelUsed:             modelUsed,
		ProcessingTimeSeconds: processingSeconds,
		AudioDurationSeconds:  extracted.DurationSeconds,
	})
	if err != nil {
		e.fail(videoPath, fmt.Sprintf("failed to persist summary: %v", err))
		return nil, fmt.Errorf("engine: complete %s: %w", videoPath, err)
	}

	progress("done", 100)
	return map[string]any{
		"videoPath": videoPath,
		"version":   version,
		"modelUsed": modelUsed,
	}, nil
}

func (e *Engine) fail(videoPath, message string) {
	if err := e.store.SetFailed(videoPath, message); err != nil {
		e.logFailure("set failed", videoPath, err)
	}
}

func (e *Engine) logFailure(action, videoPath string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.Error("engine: "+action+" failed", "videoPath", videoPath, "error", err)
}
