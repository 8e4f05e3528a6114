// Package store is the durable Summary Store: a gorm/sqlite-backed pair
// of tables enforcing the one-row-per-video and dense-version invariants,
// with tolerant path lookup for mount-root relocation.
package store

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AdmitOutcome tags what Admit decided, letting the Coordinator branch
// without re-deriving the admission rules from raw row state.
type AdmitOutcome int

const (
	AdmitCreated AdmitOutcome = iota
	AdmitAlreadyCompleted
	AdmitAlreadyInProgress
	AdmitReset
)

// AdmitDecision is the result of an admission transaction.
type AdmitDecision struct {
	Outcome AdmitOutcome
	Summary Summary
}

// Store wraps a gorm.DB scoped to the Summary/SummaryVersion tables.
type Store struct {
	db *gorm.DB
}

// New opens dsn (a file path, or ":memory:" for tests), migrates the
// schema, and sets WAL mode per the in-memory-sqlite test idiom this repo
// is grounded on.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}

	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	// sqlite serializes writes regardless; a single connection avoids
	// "database is locked" errors under concurrent Admit calls and, for
	// ":memory:" dsns, keeps every caller on the same in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Summary{}, &SummaryVersion{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// FindByPath performs the tolerant lookup: exact match, then a basename
// suffix match against stored paths. The fallback scans candidate paths in
// Go rather than via SQL LIKE so a basename containing SQL wildcard
// characters can't produce a false match.
func (s *Store) FindByPath(videoPath string) (*Summary, error) {
	var row Summary
	err := s.db.Where("video_path = ?", videoPath).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var candidates []Summary
	if err := s.db.Order("generated_at desc").Find(&candidates).Error; err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if isBasenameSuffix(c.VideoPath, videoPath) {
			return &c, nil
		}
	}
	return nil, nil
}

// Admit applies the admission rules atomically: create a fresh row,
// reject a completed row (unless force), reject an in-flight row (unless
// force), or reset a failed/no_audio row for retry.
func (s *Store) Admit(videoPath string, force bool) (AdmitDecision, error) {
	var decision AdmitDecision

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row Summary
		err := tx.Where("video_path = ?", videoPath).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = Summary{
				VideoPath:   videoPath,
				Status:      StatusPending,
				GeneratedAt: now(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			decision = AdmitDecision{Outcome: AdmitCreated, Summary: row}
			return nil
		case err != nil:
			return err
		}

		switch {
		case row.Status == StatusCompleted && !force:
			decision = AdmitDecision{Outcome: AdmitAlreadyCompleted, Summary: row}
			return nil
		case (row.Status == StatusPending || row.Status == StatusProcessing) && !force:
			decision = AdmitDecision{Outcome: AdmitAlreadyInProgress, Summary: row}
			return nil
		default:
			row.Status = StatusPending
			row.ErrorMessage = nil
			row.GeneratedAt = now()
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
			decision = AdmitDecision{Outcome: AdmitReset, Summary: row}
			return nil
		}
	})
	if err != nil {
		return AdmitDecision{}, err
	}
	return decision, nil
}

// SetProcessing transitions a row to "processing".
func (s *Store) SetProcessing(videoPath string) error {
	return s.db.Model(&Summary{}).Where("video_path = ?", videoPath).
		Updates(map[string]any{"status": StatusProcessing, "generated_at": now()}).Error
}

// SetNoAudio marks a row terminal-but-not-failed, per §4.2 step 3.
func (s *Store) SetNoAudio(videoPath, message string) error {
	return s.db.Model(&Summary{}).Where("video_path = ?", videoPath).
		Updates(map[string]any{"status": StatusNoAudio, "error_message": message, "generated_at": now()}).Error
}

// SetFailed marks a row failed with the given message.
func (s *Store) SetFailed(videoPath, message string) error {
	return s.db.Model(&Summary{}).Where("video_path = ?", videoPath).
		Updates(map[string]any{"status": StatusFailed, "error_message": message, "generated_at": now()}).Error
}

// CompleteResult carries everything the hot-path handler persists on a
// successful run.
type CompleteResult struct {
	Summary               string
	Transcript            string
	ModelUsed             string
	ProcessingTimeSeconds float64
	AudioDurationSeconds  *float64
}

// Complete persists a successful run: updates the Summary row and appends
// exactly one SummaryVersion with version = max(version)+1, all inside one
// transaction, enforcing invariants 2 and 3.
func (s *Store) Complete(videoPath string, result CompleteResult) (int, error) {
	var version int

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		if err := tx.Model(&SummaryVersion{}).
			Where("video_path = ?", videoPath).
			Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error; err != nil {
			return err
		}
		version = maxVersion + 1
		generatedAt := now()

		summaryCopy := result.Summary
		transcriptCopy := result.Transcript
		processingCopy := result.ProcessingTimeSeconds

		if err := tx.Create(&SummaryVersion{
			VideoPath:             videoPath,
			Version:               version,
			Summary:               &summaryCopy,
			Transcript:            &transcriptCopy,
			ModelUsed:             result.ModelUsed,
			ProcessingTimeSeconds: &processingCopy,
			GeneratedAt:           generatedAt,
		}).Error; err != nil {
			return err
		}

		return tx.Model(&Summary{}).Where("video_path = ?", videoPath).Updates(map[string]any{
			"status":                  StatusCompleted,
			"summary":                 &summaryCopy,
			"transcript":              &transcriptCopy,
			"model_used":              result.ModelUsed,
			"processing_time_seconds": &processingCopy,
			"audio_duration_seconds":  result.AudioDurationSeconds,
			"error_message":           nil,
			"generated_at":            generatedAt,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// ListVersions returns tolerant descriptors ordered by version ascending.
func (s *Store) ListVersions(videoPath string) ([]VersionDescriptor, error) {
	resolvedPath, err := s.resolvePath(videoPath)
	if err != nil {
		return nil, err
	}
	if resolvedPath == "" {
		return nil, nil
	}

	var rows []SummaryVersion
	if err := s.db.Where("video_path = ?", resolvedPath).Order("version asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]VersionDescriptor, 0, len(rows))
	for _, r := range rows {
		out = append(out, descriptorFromVersion(r))
	}
	return out, nil
}

// GetVersion returns one version row by number, tolerant of path form.
func (s *Store) GetVersion(videoPath string, version int) (*SummaryVersion, error) {
	resolvedPath, err := s.resolvePath(videoPath)
	if err != nil || resolvedPath == "" {
		return nil, err
	}

	var row SummaryVersion
	err = s.db.Where("video_path = ? AND version = ?", resolvedPath, version).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// BackfillVersion1 synthesizes and persists a version-1 row from a
// completed Summary that has no version rows yet, matching the original
// implementation's self-healing read path.
func (s *Store) BackfillVersion1(summary Summary) (*SummaryVersion, error) {
	row := SummaryVersion{
		VideoPath:             summary.VideoPath,
		Version:               1,
		Summary:               summary.Summary,
		Transcript:            summary.Transcript,
		ModelUsed:             summary.ModelUsed,
		ProcessingTimeSeconds: summary.ProcessingTimeSeconds,
		GeneratedAt:           summary.GeneratedAt,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// CountVersions reports how many version rows exist for a path (exact
// match only, used to decide whether BackfillVersion1 is needed).
func (s *Store) CountVersions(videoPath string) (int64, error) {
	var count int64
	err := s.db.Model(&SummaryVersion{}).Where("video_path = ?", videoPath).Count(&count).Error
	return count, err
}

// Delete removes the Summary row for videoPath; version history is left
// in place, matching the original's delete_video_summary behavior.
func (s *Store) Delete(videoPath string) (bool, error) {
	resolvedPath, err := s.resolvePath(videoPath)
	if err != nil || resolvedPath == "" {
		return false, err
	}
	res := s.db.Where("video_path = ?", resolvedPath).Delete(&Summary{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// StoreStats aggregates counts and timing across all Summary rows.
type StoreStats struct {
	Total                  int64            `json:"total"`
	PerStatus              map[string]int64 `json:"perStatus"`
	CompletedCount         int64            `json:"completedCount"`
	TotalProcessingSeconds float64          `json:"totalProcessingSeconds"`
	AvgProcessingSeconds   float64          `json:"avgProcessingSeconds"`
}

// Stats computes the aggregate view backing /summary/stats.
func (s *Store) Stats() (StoreStats, error) {
	stats := StoreStats{PerStatus: map[string]int64{}}

	if err := s.db.Model(&Summary{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := s.db.Model(&Summary{}).Select("status, count(*) as count").Group("status").Scan(&counts).Error; err != nil {
		return stats, err
	}
	for _, c := range counts {
		stats.PerStatus[c.Status] = c.Count
	}
	stats.CompletedCount = stats.PerStatus[StatusCompleted]

	if stats.CompletedCount > 0 {
		if err := s.db.Model(&Summary{}).
			Where("status = ?", StatusCompleted).
			Select("COALESCE(SUM(processing_time_seconds), 0)").
			Scan(&stats.TotalProcessingSeconds).Error; err != nil {
			return stats, err
		}
		stats.AvgProcessingSeconds = stats.TotalProcessingSeconds / float64(stats.CompletedCount)
	}

	return stats, nil
}

func (s *Store) resolvePath(videoPath string) (string, error) {
	row, err := s.FindByPath(videoPath)
	if err != nil || row == nil {
		return "", err
	}
	return row.VideoPath, nil
}

func now() time.Time { return time.Now().UTC() }

// isBasenameSuffix reports whether candidate's basename matches query's
// basename; kept as a standalone helper so the jump from a raw string
// suffix check to a path-aware comparison is unit-testable in isolation.
func isBasenameSuffix(candidate, query string) bool {
	return strings.HasSuffix(candidate, "/"+path.Base(query)) || strings.HasSuffix(candidate, "\\"+path.Base(query))
}
