package main

import (
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"transcript-bot/jobs"
)

// processPending runs the pipeline for every pending job, oldest first, and
// retries stuck deliveries. Jobs run one at a time; the transcription
// fan-out inside a job provides the parallelism.
func processPending() {
	log.Debugln("processPending...")

	for {
		var job jobs.Job
		err := db.Where("status = ?", jobs.StatusPending).Order("created_at").First(&job).Error
		if err == gorm.ErrRecordNotFound {
			log.Debugln("no pending jobs")
			break
		}
		if err != nil {
			log.Errorln("failed to query pending jobs:", err)
			break
		}
		pipe.run(job)
	}

	// deliveries that failed earlier get another attempt without recomputation
	var stuck []jobs.Job
	if err := db.Where("status = ?", jobs.StatusDeliveryPending).Find(&stuck).Error; err != nil {
		return
	}
	for _, job := range stuck {
		pipe.redeliver(job.JobID)
	}
}

func jobWorker() {
	// any jobs caught mid-pipeline by a crash restart from the top; their
	// cached fragments make the rerun cheap
	for _, status := range []jobs.Status{
		jobs.StatusNormalizing, jobs.StatusSplitting, jobs.StatusTranscribing,
		jobs.StatusStructuring, jobs.StatusAssembling,
	} {
		db.Model(&jobs.Job{}).Where("status = ?", status).Update("status", jobs.StatusPending)
	}
	db.Model(&jobs.Job{}).Where("status = ?", jobs.StatusDelivering).
		Update("status", jobs.StatusDeliveryPending)

	processPending()
	ticker := time.NewTicker(10 * time.Second)
	for range ticker.C {
		processPending()
	}
}

// cleanupTempDirs removes scratch directories whose job is gone or terminal.
// The owning pipeline normally purges them; this sweep catches leftovers from
// unclean shutdowns.
func cleanupTempDirs() {
	tempRoot := cfg.TempDir()
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		var job jobs.Job
		err := db.Where("job_id = ?", jobID).First(&job).Error
		if err == gorm.ErrRecordNotFound || (err == nil && jobs.Terminal(job.Status)) {
			log.Infoln("cleaning up orphaned temp dir", jobID)
			os.RemoveAll(filepath.Join(tempRoot, jobID))
		}
	}
}

func periodicCleanup() {
	cleanupTempDirs()
	ticker := time.NewTicker(1 * time.Hour)
	for range ticker.C {
		cleanupTempDirs()
	}
}
