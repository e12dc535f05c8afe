package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"transcript-bot/config"
	"transcript-bot/database"
	"transcript-bot/jobs"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	log = logrus.New()
	log.SetLevel(logrus.PanicLevel)
	jobs.Init(log)

	var err error
	db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&jobs.Job{}, &jobs.Note{}, &jobs.CachedFragment{}); err != nil {
		t.Fatal(err)
	}
	database.Init(db, log)

	cfg = config.Config{
		DataDir:        t.TempDir(),
		DeliverTimeout: time.Minute,
	}
}

type fakeSender struct {
	mu    sync.Mutex
	fail  bool
	notes []string
	docs  []string
}

func (f *fakeSender) SendNote(ctx context.Context, markdown string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("telegram unreachable")
	}
	f.notes = append(f.notes, markdown)
	return nil
}

func (f *fakeSender) SendDocument(ctx context.Context, pdfPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("telegram unreachable")
	}
	f.docs = append(f.docs, pdfPath)
	return nil
}

func jobStatus(t *testing.T, jobID string) jobs.Status {
	t.Helper()
	var job jobs.Job
	if err := db.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		t.Fatal(err)
	}
	return job.Status
}

func statusRequest(t *testing.T, handler echo.HandlerFunc, jobID string, userID uint) map[string]interface{} {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(jobID)
	c.Set("user_id", userID)

	if err := handler(c); err != nil {
		t.Fatal(err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestJobStatusSurfacesTranscriptAfterFailure(t *testing.T) {
	setupTestDB(t)

	db.Create(&jobs.Job{
		JobID:      "job-failed",
		UserID:     1,
		Status:     jobs.StatusFailed,
		Error:      "Note structuring failed. The raw transcript has been kept.",
		Transcript: "raw words from the recording",
	})

	body := statusRequest(t, jobStatusHandler, "job-failed", 1)
	if body["transcript"] != "raw words from the recording" {
		t.Errorf("status response missing the preserved transcript: %v", body)
	}

	// the note endpoint hands it out too when no note was assembled
	body = statusRequest(t, jobNoteHandler, "job-failed", 1)
	if body["transcript"] != "raw words from the recording" {
		t.Errorf("note response missing the preserved transcript: %v", body)
	}
}

func TestJobStatusOmitsTranscriptWhileRunning(t *testing.T) {
	setupTestDB(t)

	db.Create(&jobs.Job{
		JobID:      "job-running",
		UserID:     1,
		Status:     jobs.StatusStructuring,
		Transcript: "raw words",
	})

	body := statusRequest(t, jobStatusHandler, "job-running", 1)
	if _, ok := body["transcript"]; ok {
		t.Error("transcript exposed for a job still in flight")
	}
}

func TestRedeliverSendsStoredNoteWithoutRecomputation(t *testing.T) {
	setupTestDB(t)

	db.Create(&jobs.Job{JobID: "job-1", UserID: 1, Status: jobs.StatusDeliveryPending})
	db.Create(&jobs.Note{JobID: "job-1", Markdown: "# Готовый конспект"})

	// every pipeline stage is nil: touching any of them would panic, which
	// is exactly what redelivery must never do
	sender := &fakeSender{fail: true}
	pipe = &pipeline{cfg: cfg, sender: sender}

	pipe.redeliver("job-1")
	if got := jobStatus(t, "job-1"); got != jobs.StatusDeliveryPending {
		t.Fatalf("failed redelivery left status %q", got)
	}

	sender.fail = false
	pipe.redeliver("job-1")
	if got := jobStatus(t, "job-1"); got != jobs.StatusCompleted {
		t.Fatalf("successful redelivery left status %q", got)
	}
	if len(sender.notes) != 1 || sender.notes[0] != "# Готовый конспект" {
		t.Errorf("stored note was not what got sent: %v", sender.notes)
	}

	var note jobs.Note
	db.Where("job_id = ?", "job-1").First(&note)
	if !note.Delivered {
		t.Error("note not marked delivered")
	}
}

func TestRedeliverClaimsJobExactlyOnce(t *testing.T) {
	setupTestDB(t)

	db.Create(&jobs.Job{JobID: "job-1", UserID: 1, Status: jobs.StatusDeliveryPending})
	db.Create(&jobs.Note{JobID: "job-1", Markdown: "note"})

	sender := &fakeSender{}
	pipe = &pipeline{cfg: cfg, sender: sender}

	// the resend handler and the worker tick can both fire; only the first
	// claim delivers
	pipe.redeliver("job-1")
	pipe.redeliver("job-1")

	if len(sender.notes) != 1 {
		t.Errorf("note sent %d times, want 1", len(sender.notes))
	}
	if got := jobStatus(t, "job-1"); got != jobs.StatusCompleted {
		t.Errorf("status %q after redelivery", got)
	}
}

func TestRedeliverIgnoresJobsNotAwaitingDelivery(t *testing.T) {
	setupTestDB(t)

	db.Create(&jobs.Job{JobID: "job-1", UserID: 1, Status: jobs.StatusCompleted})
	db.Create(&jobs.Note{JobID: "job-1", Markdown: "note", Delivered: true})

	sender := &fakeSender{}
	pipe = &pipeline{cfg: cfg, sender: sender}

	pipe.redeliver("job-1")
	if len(sender.notes) != 0 {
		t.Errorf("completed job was redelivered %d times", len(sender.notes))
	}
}
