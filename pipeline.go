package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"transcript-bot/config"
	"transcript-bot/deliver"
	"transcript-bot/fetch"
	"transcript-bot/jobs"
	"transcript-bot/normalize"
	"transcript-bot/notes"
	"transcript-bot/pdf"
	"transcript-bot/split"
	"transcript-bot/structure"
	"transcript-bot/transcribe"
)

// noteSender delivers an assembled note; satisfied by deliver.Sender.
type noteSender interface {
	SendNote(ctx context.Context, markdown string) error
	SendDocument(ctx context.Context, pdfPath string) error
}

// pipeline wires the stages together: normalize, split, transcribe,
// structure, assemble, deliver. One job runs at a time; only the
// transcription fan-out inside a job is parallel.
type pipeline struct {
	cfg          config.Config
	fetcher      *fetch.YtDlp
	normalizer   *normalize.Normalizer
	splitter     *split.Splitter
	orchestrator *transcribe.Orchestrator
	structurer   *structure.Structurer
	renderer     *pdf.Renderer
	sender       noteSender
}

func newPipeline(cfg config.Config) *pipeline {
	var backend transcribe.Backend
	if cfg.Backend == config.BackendLocal {
		backend = transcribe.NewWhisperCppBackend(cfg.Model)
	} else {
		backend = transcribe.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.Model)
	}

	fetcher := fetch.NewYtDlp()
	return &pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		normalizer: normalize.New(fetcher),
		splitter:   split.New(),
		orchestrator: transcribe.NewOrchestrator(backend, jobs.NewFragmentCache(),
			cfg.PoolSize, cfg.MaxAttempts, cfg.SegmentTimeout),
		structurer: structure.New(structure.NewOpenAIChat(cfg.OpenAIAPIKey, cfg.ChatModel)),
		renderer:   pdf.NewRenderer(),
		sender: deliver.NewSender(cfg.TelegramBotToken, cfg.GroupChatID,
			cfg.RelayBotToken, cfg.RelayChatID),
	}
}

// run drives one job from pending to a terminal state. The job's temp dir is
// purged on every exit path; the fragment cache is dropped only once the job
// is terminal, so a crash mid-job resumes without re-transcribing.
func (p *pipeline) run(job jobs.Job) {
	ctx := context.Background()
	jobID := job.JobID

	tempDir, err := jobs.TempDir(p.cfg.TempDir(), jobID)
	if err != nil {
		log.Errorln("job", jobID, err)
		jobs.Fail(jobID, jobs.UserMessage(err))
		return
	}
	defer jobs.Purge(p.cfg.TempDir(), jobID)

	fail := func(err error) {
		log.Errorln("job", jobID, "failed:", err)
		jobs.Fail(jobID, jobs.UserMessage(err))
		jobs.Drop(jobID)
	}

	jobs.SetStatus(jobID, jobs.StatusNormalizing)
	downloadCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	track, err := p.normalizer.Normalize(downloadCtx, job.SourceRef, job.SourceKind, tempDir)
	cancel()
	if err != nil {
		fail(err)
		return
	}
	jobs.SetDuration(jobID, track.Duration)

	title := job.Title
	if title == "" && job.SourceKind == jobs.SourceLink {
		title = p.fetcher.Title(ctx, job.SourceRef)
	}
	if title == "" {
		title = "Без названия"
	}
	db.Model(&jobs.Job{}).Where("job_id = ?", jobID).Update("title", title)

	jobs.SetStatus(jobID, jobs.StatusSplitting)
	limits := split.Limits{
		MaxSegmentBytes:   p.cfg.MaxSegmentBytes,
		MaxSegmentSeconds: p.cfg.MaxSegmentDuration.Seconds(),
	}
	segments, err := p.splitter.Split(ctx, track, limits, tempDir)
	if err != nil {
		fail(err)
		return
	}

	jobs.SetStatus(jobID, jobs.StatusTranscribing)
	transcript, err := p.orchestrator.Run(ctx, jobID, track, segments)
	if err != nil {
		fail(err)
		return
	}
	jobs.SaveTranscript(jobID, transcript.Text())

	meta := structure.Meta{
		Title:    title,
		Date:     time.Now().Format("2006-01-02"),
		Duration: track.Duration,
	}
	if job.SourceKind == jobs.SourceLink {
		meta.Link = job.SourceRef
	}

	jobs.SetStatus(jobID, jobs.StatusStructuring)
	structureCtx, cancel := context.WithTimeout(ctx, p.cfg.StructureTimeout)
	result, err := p.structurer.Structure(structureCtx, transcript, meta)
	cancel()
	if err != nil {
		// the raw transcript is already saved on the job row
		fail(err)
		return
	}

	jobs.SetStatus(jobID, jobs.StatusAssembling)
	markdown := notes.Assemble(meta, result)

	// a rerun after a crash may find a half-finished note row from the
	// previous attempt
	db.Unscoped().Where("job_id = ?", jobID).Delete(&jobs.Note{})

	note := jobs.Note{JobID: jobID, Markdown: markdown}
	if p.cfg.GeneratePDF {
		pdfPath := filepath.Join(p.cfg.DataDir, "notes", fmt.Sprintf("%s.pdf", jobID))
		if err := p.renderer.Render(title, markdown, pdfPath); err != nil {
			log.Errorln("job", jobID, "pdf render failed:", err)
		} else {
			note.PDFPath = pdfPath
		}
	}
	if err := db.Create(&note).Error; err != nil {
		log.Errorln("job", jobID, "failed to persist note:", err)
		fail(err)
		return
	}
	jobs.Drop(jobID)

	jobs.SetStatus(jobID, jobs.StatusDelivering)
	if err := p.deliverNote(ctx, note); err != nil {
		log.Errorln("job", jobID, "delivery failed, keeping note:", err)
		jobs.SetStatus(jobID, jobs.StatusDeliveryPending)
		return
	}

	db.Model(&jobs.Note{}).Where("job_id = ?", jobID).Update("delivered", true)
	jobs.SetStatus(jobID, jobs.StatusCompleted)
	log.Infof("job %s completed", jobID)
}

func (p *pipeline) deliverNote(ctx context.Context, note jobs.Note) error {
	deliverCtx, cancel := context.WithTimeout(ctx, p.cfg.DeliverTimeout)
	defer cancel()

	if err := p.sender.SendNote(deliverCtx, note.Markdown); err != nil {
		return err
	}
	if note.PDFPath != "" {
		if err := p.sender.SendDocument(deliverCtx, note.PDFPath); err != nil {
			return err
		}
	}
	return nil
}

// redeliver retries delivery for a job whose note is assembled but undelivered.
func (p *pipeline) redeliver(jobID string) {
	// the resend handler and the worker tick can both call this; whoever
	// flips the status out of delivery pending owns the attempt
	res := db.Model(&jobs.Job{}).
		Where("job_id = ? AND status = ?", jobID, jobs.StatusDeliveryPending).
		Update("status", jobs.StatusDelivering)
	if res.Error != nil {
		log.Errorln("redeliver: failed to claim job", jobID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		log.Debugln("redeliver: job", jobID, "is not awaiting delivery")
		return
	}

	var note jobs.Note
	if err := db.Where("job_id = ?", jobID).First(&note).Error; err != nil {
		log.Errorln("redeliver: no note for job", jobID)
		jobs.SetStatus(jobID, jobs.StatusDeliveryPending)
		return
	}
	if err := p.deliverNote(context.Background(), note); err != nil {
		log.Errorln("job", jobID, "redelivery failed:", err)
		jobs.SetStatus(jobID, jobs.StatusDeliveryPending)
		return
	}

	db.Model(&jobs.Note{}).Where("job_id = ?", jobID).Update("delivered", true)
	jobs.SetStatus(jobID, jobs.StatusCompleted)
	log.Infof("job %s delivered on retry", jobID)
}
