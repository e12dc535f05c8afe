package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"transcript-bot/jobs"
	"transcript-bot/users"
)

func loginPostHandler(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	userID, err := users.Authenticate(db, username, password)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}

	session, err := store.Get(c.Request(), "session")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to retrieve session"})
	}
	session.Values["user_id"] = userID
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to save session"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func logoutHandler(c echo.Context) error {
	session, _ := store.Get(c.Request(), "session")
	delete(session.Values, "user_id")
	session.Save(c.Request(), c.Response().Writer)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Premium bool   `json:"premium"`
}

// submitJobHandler accepts either a multipart media upload or a JSON body
// with a remote link. The premium flag selects the declared-size admission
// limit; the backend's own segment limits stay fixed either way.
func submitJobHandler(c echo.Context) error {
	userID := c.Get("user_id").(uint)

	job := jobs.Job{
		JobID:  uuid.Must(uuid.NewV7()).String(),
		UserID: userID,
		Status: jobs.StatusPending,
	}

	if file, err := c.FormFile("media"); err == nil {
		job.SourceKind = jobs.SourceUpload
		job.Premium = strings.EqualFold(c.FormValue("premium"), "true")
		job.SizeBytes = file.Size
		job.Title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))

		if limit := cfg.AdmissionLimitBytes(job.Premium); file.Size > limit {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("file exceeds the %d MB limit for this tier", limit>>20),
			})
		}

		uploadDir := filepath.Join(cfg.DataDir, "uploads")
		if err := os.MkdirAll(uploadDir, 0700); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to store upload"})
		}
		dstPath := filepath.Join(uploadDir, job.JobID+filepath.Ext(file.Filename))

		src, err := file.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unable to read upload"})
		}
		defer src.Close()
		dst, err := os.Create(dstPath)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to store upload"})
		}
		defer dst.Close()
		if _, err := io.Copy(dst, src); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to store upload"})
		}
		job.SourceRef = dstPath
	} else {
		var req submitRequest
		if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "provide a media upload or a url"})
		}
		job.SourceKind = jobs.SourceLink
		job.SourceRef = strings.TrimSpace(req.URL)
		job.Premium = req.Premium
		job.Title = req.Title
	}

	if err := db.Create(&job).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to create job"})
	}
	log.Infof("job %s submitted by user %d (%s)", job.JobID, userID, job.SourceKind)

	return c.JSON(http.StatusAccepted, map[string]string{"id": job.JobID, "status": string(job.Status)})
}

func findUserJob(c echo.Context) (jobs.Job, error) {
	userID := c.Get("user_id").(uint)
	var job jobs.Job
	err := db.Where("job_id = ? AND user_id = ?", c.Param("id"), userID).First(&job).Error
	return job, err
}

func jobStatusHandler(c echo.Context) error {
	job, err := findUserJob(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such job"})
	}

	body := map[string]interface{}{
		"id":       job.JobID,
		"status":   string(job.Status),
		"title":    job.Title,
		"duration": job.Duration,
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	// a failed job may still carry the raw transcript, e.g. when structuring
	// failed after transcription succeeded
	if job.Status == jobs.StatusFailed && job.Transcript != "" {
		body["transcript"] = job.Transcript
	}
	return c.JSON(http.StatusOK, body)
}

func jobNoteHandler(c echo.Context) error {
	job, err := findUserJob(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such job"})
	}

	var note jobs.Note
	if err := db.Where("job_id = ?", job.JobID).First(&note).Error; err != nil {
		if job.Status == jobs.StatusFailed && job.Transcript != "" {
			return c.JSON(http.StatusOK, map[string]interface{}{
				"id":         job.JobID,
				"transcript": job.Transcript,
				"error":      job.Error,
			})
		}
		return c.JSON(http.StatusNotFound, map[string]string{"error": "note not ready"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":        job.JobID,
		"markdown":  note.Markdown,
		"delivered": note.Delivered,
	})
}

// resendHandler retries delivery of an already-assembled note. Nothing is
// recomputed; the stored note and PDF are sent as-is.
func resendHandler(c echo.Context) error {
	job, err := findUserJob(c)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such job"})
	}
	if job.Status != jobs.StatusDeliveryPending {
		return c.JSON(http.StatusConflict, map[string]string{"error": "job is not awaiting delivery"})
	}

	go pipe.redeliver(job.JobID)
	return c.JSON(http.StatusAccepted, map[string]string{"id": job.JobID, "status": "delivering"})
}
