// Command summaryengine boots the Summary Orchestration Engine: it wires
// config, storage, the task queue, the three pipeline adapters, and the
// Coordinator, then serves the HTTP contract until interrupted.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gitmonke/go-video-summary/adapters"
	"github.com/gitmonke/go-video-summary/config"
	"github.com/gitmonke/go-video-summary/engine"
	"github.com/gitmonke/go-video-summary/httpapi"
	"github.com/gitmonke/go-video-summary/logging"
	"github.com/gitmonke/go-video-summary/queue"
	"github.com/gitmonke/go-video-summary/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(os.Stdout, "./logs", cfg.LogFormat)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger.Info("starting summary orchestration engine", "config", cfg)

	st, err := store.New(cfg.StoreDSN)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}

	q := queue.New(cfg.MaxWorkers, logger)

	extractor := adapters.NewExtractor(cfg.FFmpegBin, cfg.FFprobeBin)
	transcriber := adapters.NewTranscriber(cfg.WhisperEndpoint, cfg.WhisperAPIKey, cfg.WhisperModel)
	summarizer := adapters.NewSummarizer(cfg.LLMEndpoint, cfg.LLMModel, cfg.MaxTranscriptChars, cfg.PromptBudgetChars)

	eng := engine.New(st, q, extractor, transcriber, summarizer, cfg, logger)
	router := httpapi.NewRouter(eng, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := q.Close(shutdownCtx); err != nil {
		logger.Error("queue shutdown failed", "error", err)
	}
}
