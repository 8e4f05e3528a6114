package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeBasenameReplacesUnsafeCharacters(t *testing.T) {
	require.Equal(t, "my_weird_video_name", safeBasename("/tmp/my weird&video!name.mp4"))
	require.Equal(t, "plain-file_1.2.3", safeBasename("plain-file_1.2.3.mov"))
}

func TestParseDurationExtractsSeconds(t *testing.T) {
	stderr := "ffmpeg version 6.0\n  Duration: 00:02:03.45, start: 0.000000, bitrate: 128 kb/s\n"
	d := parseDuration(stderr)
	require.NotNil(t, d)
	require.InDelta(t, 123.45, *d, 0.001)
}

func TestParseDurationReturnsNilWhenMissing(t *testing.T) {
	require.Nil(t, parseDuration("no duration line here"))
}

func TestClassifyFFmpegErrorFileNotFound(t *testing.T) {
	err := classifyFFmpegError("video.mp4: No such file or directory")
	require.Equal(t, KindInputError, err.Kind)
}

func TestClassifyFFmpegErrorNoAudioTrack(t *testing.T) {
	err := classifyFFmpegError("Stream map '0:a' matches no streams.")
	require.Equal(t, KindNoAudio, err.Kind)
}

func TestClassifyFFmpegErrorCorrupted(t *testing.T) {
	err := classifyFFmpegError("Invalid data found when processing input")
	require.Equal(t, KindAdapterFatal, err.Kind)
	require.Contains(t, err.Message, "corrupted")
}

func TestClassifyFFmpegErrorPermissionDenied(t *testing.T) {
	err := classifyFFmpegError("open video.mp4: Permission denied")
	require.Equal(t, KindAdapterFatal, err.Kind)
	require.Contains(t, err.Message, "permission denied")
}

func TestClassifyFFmpegErrorUnsupportedFormat(t *testing.T) {
	err := classifyFFmpegError("Decoder (codec exotic) not found for input stream")
	require.Equal(t, KindAdapterFatal, err.Kind)
	require.Contains(t, err.Message, "not supported")
}

func TestClassifyFFmpegErrorFallsBackToLastLine(t *testing.T) {
	err := classifyFFmpegError("some preamble\nsome other line\nthe actual failure reason")
	require.Equal(t, KindAdapterFatal, err.Kind)
	require.Equal(t, "the actual failure reason", err.Message)
}

func TestClassifyFFmpegErrorEmptyStderr(t *testing.T) {
	err := classifyFFmpegError("   ")
	require.Equal(t, KindAdapterFatal, err.Kind)
}
