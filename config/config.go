// Package config loads the engine's environment-driven configuration.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds every tunable named in the engine's external contract.
type Config struct {
	LLMEndpoint     string `env:"LLM_ENDPOINT,default=http://ollama:11434"`
	LLMModel        string `env:"LLM_MODEL,default=llama3.2:13b"`
	WhisperEndpoint string `env:"WHISPER_ENDPOINT,default=http://localhost:8081/v1"`
	WhisperAPIKey   string `env:"WHISPER_API_KEY"`
	WhisperModel    string `env:"WHISPER_MODEL,default=base"`

	MaxWorkers           int `env:"MAX_WORKERS,default=2"`
	MaxTranscriptChars   int `env:"MAX_TRANSCRIPT_CHARS,default=50000"`
	PromptBudgetChars    int `env:"PROMPT_BUDGET_CHARS,default=15000"`
	ExtractorTimeoutSec  int `env:"EXTRACTOR_TIMEOUT_SEC,default=300"`
	SummarizerTimeoutSec int `env:"SUMMARIZER_TIMEOUT_SEC,default=2700"`

	StoreDSN  string `env:"STORE_DSN,default=./data/summaries.db"`
	FFmpegBin string `env:"FFMPEG_BIN,default=ffmpeg"`
	FFprobeBin string `env:"FFPROBE_BIN,default=ffprobe"`

	HTTPAddr  string `env:"HTTP_ADDR,default=:8080"`
	LogFormat string `env:"LOG_FORMAT,default=console"`
}

// Load reads a .env file if present (a missing file is not an error) then
// populates Config from the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would make the engine unable to
// start.
func (c *Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("config: MAX_WORKERS must be >= 1, got %d", c.MaxWorkers)
	}
	if c.MaxTranscriptChars < 1 {
		return fmt.Errorf("config: MAX_TRANSCRIPT_CHARS must be >= 1, got %d", c.MaxTranscriptChars)
	}
	if c.PromptBudgetChars < 1 || c.PromptBudgetChars > c.MaxTranscriptChars {
		return fmt.Errorf("config: PROMPT_BUDGET_CHARS must be in (0, MAX_TRANSCRIPT_CHARS], got %d", c.PromptBudgetChars)
	}
	if c.ExtractorTimeoutSec < 1 {
		return fmt.Errorf("config: EXTRACTOR_TIMEOUT_SEC must be >= 1, got %d", c.ExtractorTimeoutSec)
	}
	if c.SummarizerTimeoutSec < 1 {
		return fmt.Errorf("config: SUMMARIZER_TIMEOUT_SEC must be >= 1, got %d", c.SummarizerTimeoutSec)
	}
	return nil
}

// LogValue leaves WhisperAPIKey out of the logged group; the fields it does
// log are endpoint URLs and tunables. It keeps the slog.LogValuer shape the
// rest of the pack uses for config dumps.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("llm_endpoint", c.LLMEndpoint),
		slog.String("llm_model", c.LLMModel),
		slog.String("whisper_endpoint", c.WhisperEndpoint),
		slog.String("whisper_model", c.WhisperModel),
		slog.Int("max_workers", c.MaxWorkers),
		slog.String("store_dsn", c.StoreDSN),
		slog.String("http_addr", c.HTTPAddr),
	)
}
