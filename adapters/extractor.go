package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

var safeFilenamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Extractor shells out to ffmpeg to produce a normalized mono 16kHz PCM16
// audio artifact from a video file.
type Extractor struct {
	ffmpegBin  string
	ffprobeBin string
}

func NewExtractor(ffmpegBin, ffprobeBin string) *Extractor {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &Extractor{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin}
}

// ExtractResult is the tagged result of Extract.
type ExtractResult struct {
	Ok              bool
	AudioPath       string
	DurationSeconds *float64
	Err             *AdapterError
}

// Extract produces outDir/<safeBase>.wav from videoPath, enforcing a
// timeout and classifying ffmpeg failures into the adapter error taxonomy.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string, timeout time.Duration) ExtractResult {
	if _, err := os.Stat(videoPath); err != nil {
		return ExtractResult{Err: newError(KindInputError, "video file not found: %s", videoPath)}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return ExtractResult{Err: newError(KindInternal, "create output dir: %v", err)}
	}

	audioPath := filepath.Join(outDir, safeBasename(videoPath)+".wav")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffmpegBin,
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		audioPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() != nil {
		return ExtractResult{Err: newError(KindAdapterTransient, "audio extraction timeout after %s", timeout)}
	}

	if runErr != nil {
		return ExtractResult{Err: classifyFFmpegError(stderr.String())}
	}

	info, statErr := os.Stat(audioPath)
	if statErr != nil || info.Size() == 0 {
		return ExtractResult{Err: newError(KindNoAudio, "audio extraction produced empty file - video may have no audio track")}
	}

	duration := parseDuration(stderr.String())
	return ExtractResult{Ok: true, AudioPath: audioPath, DurationSeconds: duration}
}

// safeBasename drops the extension from videoPath's base name and replaces
// every remaining rune outside [A-Za-z0-9._-] with '_'.
func safeBasename(videoPath string) string {
	base := filepath.Base(videoPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return safeFilenamePattern.ReplaceAllString(name, "_")
}

func parseDuration(stderr string) *float64 {
	m := durationPattern.FindStringSubmatch(stderr)
	if m == nil {
		return nil
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	centis, _ := strconv.ParseFloat(m[4], 64)
	total := hours*3600 + minutes*60 + seconds + centis/100
	return &total
}

func classifyFFmpegError(stderr string) *AdapterError {
	trimmed := strings.TrimSpace(stderr)
	if trimmed == "" {
		return newError(KindAdapterFatal, "unknown ffmpeg error")
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "no such file or directory"):
		return newError(KindInputError, "video file not found or cannot be accessed")
	case strings.Contains(lower, "stream map") && strings.Contains(lower, "matches no streams"):
		return newError(KindNoAudio, "no audio track found in video file")
	case strings.Contains(lower, "invalid data found when processing input") || strings.Contains(lower, "moov atom not found"):
		return newError(KindAdapterFatal, "video file appears to be corrupted or in unsupported format")
	case strings.Contains(lower, "permission denied"):
		return newError(KindAdapterFatal, "permission denied accessing video file")
	case strings.Contains(lower, "decoder") && strings.Contains(lower, "not found"):
		return newError(KindAdapterFatal, "video format not supported by ffmpeg")
	default:
		lines := strings.Split(trimmed, "\n")
		last := lines[len(lines)-1]
		if len(last) > 200 {
			last = last[:200]
		}
		return newError(KindAdapterFatal, "%s", last)
	}
}

// ProbeResult is the diagnostic output of Probe.
type ProbeResult struct {
	DurationSeconds float64
	SizeBytes       int64
	HasAudio        bool
	HasVideo        bool
	AudioCodec      string
	VideoCodec      string
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

// Probe reports duration/size/codec metadata via ffprobe. Diagnostic-only;
// not on the hot path.
func (e *Extractor) Probe(ctx context.Context, videoPath string) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	result := ProbeResult{}
	result.DurationSeconds, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	sizeBytes, _ := strconv.ParseInt(parsed.Format.Size, 10, 64)
	result.SizeBytes = sizeBytes

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			if !result.HasAudio {
				result.HasAudio = true
				result.AudioCodec = s.CodecName
			}
		case "video":
			if !result.HasVideo {
				result.HasVideo = true
				result.VideoCodec = s.CodecName
			}
		}
	}

	return result, nil
}
