package adapters

import (
	"context"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

const maxAudioFileBytes = 200 * 1024 * 1024 // 200 MiB

// Transcriber calls an OpenAI-compatible speech-to-text endpoint (a local
// Whisper server, in practice) to turn an audio file into a transcript
// with segment timestamps.
type Transcriber struct {
	client *openai.Client
	model  string
}

func NewTranscriber(baseURL, apiKey, model string) *Transcriber {
	if apiKey == "" {
		apiKey = "not-needed"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "base"
	}
	return &Transcriber{client: openai.NewClientWithConfig(cfg), model: model}
}

// Segment is one timestamped span of transcript text.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// TranscribeResult is the tagged result of Transcribe.
type TranscribeResult struct {
	Ok         bool
	Text       string
	Language   string
	Confidence float64
	Segments   []Segment
	Err        *AdapterError
}

// Transcribe runs speech-to-text over audioPath. An empty-text response is
// reported as an error of kind NoSpeech, so the Coordinator stops before
// invoking the summarizer.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, language string) TranscribeResult {
	info, err := os.Stat(audioPath)
	if err != nil {
		return TranscribeResult{Err: newError(KindInputError, "audio file not found: %s", audioPath)}
	}
	if info.Size() == 0 {
		return TranscribeResult{Err: newError(KindNoAudio, "audio file is empty")}
	}
	if info.Size() > maxAudioFileBytes {
		return TranscribeResult{Err: newError(KindInputError, "audio file exceeds %d byte limit", maxAudioFileBytes)}
	}

	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		req.Language = language
	}

	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		return TranscribeResult{Err: newError(KindAdapterTransient, "transcription request failed: %v", err)}
	}

	if resp.Text == "" {
		return TranscribeResult{Err: newError(KindNoSpeech, "no speech detected")}
	}

	segments := make([]Segment, 0, len(resp.Segments))
	var noSpeechTotal float64
	for _, seg := range resp.Segments {
		segments = append(segments, Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
		noSpeechTotal += seg.NoSpeechProb
	}

	confidence := 1.0
	if len(resp.Segments) > 0 {
		confidence = round3(1.0 - noSpeechTotal/float64(len(resp.Segments)))
	}

	return TranscribeResult{
		Ok:         true,
		Text:       resp.Text,
		Language:   resp.Language,
		Confidence: confidence,
		Segments:   segments,
	}
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// ModelInfo describes one supported transcription model.
type ModelInfo struct {
	Name        string
	Parameters  string
	VRAM        string
	Speed       string
	Description string
}

// SupportedModels mirrors the fixed model catalog from the original
// service; it is descriptive metadata, not a capability probe.
func SupportedModels() []ModelInfo {
	return []ModelInfo{
		{Name: "tiny", Parameters: "39M", VRAM: "~1GB", Speed: "~32x", Description: "Fastest, least accurate"},
		{Name: "base", Parameters: "74M", VRAM: "~1GB", Speed: "~16x", Description: "Good balance of speed and accuracy"},
		{Name: "small", Parameters: "244M", VRAM: "~2GB", Speed: "~6x", Description: "Better accuracy, moderate speed"},
		{Name: "medium", Parameters: "769M", VRAM: "~5GB", Speed: "~2x", Description: "High accuracy, slower"},
		{Name: "large", Parameters: "1550M", VRAM: "~10GB", Speed: "1x", Description: "Best accuracy, slowest"},
	}
}
