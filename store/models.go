package store

import (
	"fmt"
	"time"
)

// Status values a Summary row can hold.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusNoAudio    = "no_audio"
)

// Summary is the durable, latest-known state for one video.
type Summary struct {
	ID                    uint      `gorm:"primaryKey" json:"-"`
	VideoPath             string    `gorm:"uniqueIndex;not null" json:"videoPath"`
	Status                string    `gorm:"index;index:idx_status_generated;default:pending" json:"status"`
	Summary               *string   `json:"summary,omitempty"`
	Transcript            *string   `json:"transcript,omitempty"`
	ModelUsed             string    `gorm:"default:whisper-base+llama3.2:13b" json:"modelUsed,omitempty"`
	AudioDurationSeconds  *float64  `json:"audioDurationSeconds,omitempty"`
	ProcessingTimeSeconds *float64  `json:"processingTimeSeconds,omitempty"`
	ErrorMessage          *string   `json:"errorMessage,omitempty"`
	GeneratedAt           time.Time `gorm:"index:idx_status_generated" json:"generatedAt"`
}

func (Summary) TableName() string { return "summaries" }

// SummaryVersion is an append-only history row for a video.
type SummaryVersion struct {
	ID                    uint   `gorm:"primaryKey"`
	VideoPath             string `gorm:"uniqueIndex:idx_path_version;index:idx_path_time;not null"`
	Version               int    `gorm:"uniqueIndex:idx_path_version;not null"`
	Summary               *string
	Transcript            *string
	ModelUsed             string
	ProcessingTimeSeconds *float64
	GeneratedAt           time.Time `gorm:"index:idx_path_time"`
}

func (SummaryVersion) TableName() string { return "summary_versions" }

// VersionDescriptor is the read-side shape returned by ListVersions and
// embedded in GetLatest; it carries a formatted label for direct display.
type VersionDescriptor struct {
	Version               int       `json:"version"`
	GeneratedAt           time.Time `json:"generatedAt"`
	ModelUsed             string    `json:"modelUsed"`
	ProcessingTimeSeconds *float64  `json:"processingTimeSeconds,omitempty"`
	DisplayLabel          string    `json:"displayLabel"`
}

func descriptorFromVersion(v SummaryVersion) VersionDescriptor {
	return VersionDescriptor{
		Version:               v.Version,
		GeneratedAt:           v.GeneratedAt,
		ModelUsed:             v.ModelUsed,
		ProcessingTimeSeconds: v.ProcessingTimeSeconds,
		DisplayLabel:          formatDisplayLabel(v.Version, v.GeneratedAt),
	}
}

func formatDisplayLabel(version int, generatedAt time.Time) string {
	return fmt.Sprintf("v%d - %s", version, generatedAt.Format("Jan 2, 15:04"))
}
