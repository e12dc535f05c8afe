package jobs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"transcript-bot/database"
)

var log *logrus.Logger

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "jobs",
	}).Logger
	return nil
}

type Status string

const (
	StatusPending         Status = "pending"
	StatusNormalizing     Status = "normalizing"
	StatusSplitting       Status = "splitting"
	StatusTranscribing    Status = "transcribing"
	StatusStructuring     Status = "structuring"
	StatusAssembling      Status = "assembling"
	StatusDelivering      Status = "delivering"
	StatusDeliveryPending Status = "delivery pending"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

const (
	SourceUpload = "upload"
	SourceLink   = "link"
)

type Job struct {
	gorm.Model
	JobID      string `gorm:"uniqueIndex"`
	UserID     uint
	SourceRef  string // uploaded file path or remote link
	SourceKind string // "upload" or "link"
	Title      string
	Premium    bool
	SizeBytes  int64
	Duration   float64 // seconds, known after normalization
	Status     Status
	Error      string // user-facing failure message
	Transcript string // best-effort raw transcript, preserved on structuring failure
}

// Note is the final artifact for a completed job. Immutable after creation
// except for the delivery annotation.
type Note struct {
	gorm.Model
	JobID     string `gorm:"uniqueIndex"`
	Markdown  string
	PDFPath   string
	Delivered bool
}

// Active reports whether the status represents in-flight pipeline work.
// Jobs found active at startup were interrupted by a crash and get reset to
// pending; the fragment cache makes the rerun cheap.
func Active(s Status) bool {
	switch s {
	case StatusNormalizing, StatusSplitting, StatusTranscribing, StatusStructuring, StatusAssembling, StatusDelivering:
		return true
	default:
		return false
	}
}

// Terminal reports whether the job owns no further pipeline work. Delivery
// pending is terminal for the pipeline but not for delivery retries.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeliveryPending
}

func SetStatus(jobID string, status Status) error {
	db := database.Get()
	log.Debugln("job", jobID, "status ->", status)
	return db.Model(&Job{}).Where("job_id = ?", jobID).Update("status", status).Error
}

func Fail(jobID string, message string) error {
	db := database.Get()
	log.Debugln("job", jobID, "failed:", message)
	return db.Model(&Job{}).Where("job_id = ?", jobID).
		Updates(map[string]interface{}{"status": StatusFailed, "error": message}).Error
}

// SaveTranscript stores the best-effort raw transcript on the job row so a
// later structuring failure loses no work.
func SaveTranscript(jobID string, transcript string) error {
	db := database.Get()
	return db.Model(&Job{}).Where("job_id = ?", jobID).Update("transcript", transcript).Error
}

func SetDuration(jobID string, seconds float64) error {
	db := database.Get()
	return db.Model(&Job{}).Where("job_id = ?", jobID).Update("duration", seconds).Error
}

// TempDir returns the scratch directory owned exclusively by the job,
// creating it if needed.
func TempDir(tempRoot, jobID string) (string, error) {
	dir := filepath.Join(tempRoot, jobID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create job temp dir: %w", err)
	}
	return dir, nil
}

// Purge removes the job's scratch directory. Called whenever a job reaches a
// terminal state, regardless of exit path.
func Purge(tempRoot, jobID string) {
	dir := filepath.Join(tempRoot, jobID)
	if err := os.RemoveAll(dir); err != nil {
		log.Errorln("failed to purge temp dir for job", jobID, err)
	} else {
		log.Debugln("purged temp dir for job", jobID)
	}
}
