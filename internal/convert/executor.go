// Package convert runs conversion jobs: document text extraction followed by
// chunked speech synthesis.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voiceify/voiceify/internal/config"
	"github.com/voiceify/voiceify/internal/events"
	"github.com/voiceify/voiceify/internal/jobs"
	"github.com/voiceify/voiceify/internal/metrics"
	"github.com/voiceify/voiceify/internal/synth"
	"github.com/voiceify/voiceify/internal/textproc"
	"github.com/voiceify/voiceify/pkg/types"
)

// Job messages shown to clients
const (
	MsgReadingDocument = "Reading PDF..."
	MsgReady           = "Ready to generate audio"
	MsgComplete        = "Complete"
	MsgNoReadableText  = "No readable text found. The PDF might be scanned images."
)

// ReadyProgress is the progress of a job whose text is ready for synthesis.
const ReadyProgress = 50

var (
	ErrEmptyText      = errors.New("Text cannot be empty.")
	ErrNothingToSpeak = errors.New("No text content after cleaning.")
)

// TextExtractor returns the raw text of a document
type TextExtractor interface {
	Extract(ctx context.Context, document []byte) (string, error)
}

// Options tune the executor
type Options struct {
	ChunkMaxChars     int
	MaxChunks         int
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	Voices            config.VoiceCatalog
}

// Executor runs jobs in the background, bounded by MaxConcurrentJobs.
type Executor struct {
	ctx       context.Context
	store     jobs.JobStore
	extractor TextExtractor
	synth     synth.Synthesizer
	publisher events.Publisher
	metrics   *metrics.Metrics
	sem       *semaphore.Weighted
	opts      Options
	wg        sync.WaitGroup
}

// NewExecutor creates an executor. Jobs stop when ctx is canceled.
func NewExecutor(ctx context.Context, store jobs.JobStore, extractor TextExtractor, s synth.Synthesizer, publisher events.Publisher, m *metrics.Metrics, opts Options) *Executor {
	if opts.ChunkMaxChars <= 0 {
		opts.ChunkMaxChars = textproc.DefaultChunkMaxChars
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = textproc.DefaultMaxChunks
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 1
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Executor{
		ctx:       ctx,
		store:     store,
		extractor: extractor,
		synth:     s,
		publisher: publisher,
		metrics:   m,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		opts:      opts,
	}
}

// PrepareText cleans raw text and splits it into synthesis chunks. The
// second result reports whether chunks were dropped to honor MaxChunks.
func (e *Executor) PrepareText(raw string) ([]string, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, false, ErrEmptyText
	}
	cleaned := textproc.Clean(raw)
	if cleaned == "" {
		return nil, false, ErrNothingToSpeak
	}
	chunks, truncated := textproc.Limit(textproc.Chunk(cleaned, e.opts.ChunkMaxChars), e.opts.MaxChunks)
	return chunks, truncated, nil
}

// ProcessDocument extracts the text of an uploaded document and then
// synthesizes it. The job must already exist in queued state.
func (e *Executor) ProcessDocument(jobID string, document []byte) {
	e.run(jobID, func(ctx context.Context) error {
		if err := e.extract(ctx, jobID, document); err != nil {
			return err
		}
		return e.synthesize(ctx, jobID)
	})
}

// ProcessText synthesizes a job created with its chunks already in place.
func (e *Executor) ProcessText(jobID string) {
	e.run(jobID, func(ctx context.Context) error {
		return e.synthesize(ctx, jobID)
	})
}

// Wait blocks until every started job has returned
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) run(jobID string, work func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			e.fail(jobID, fmt.Errorf("job not started: %w", err))
			return
		}
		defer e.sem.Release(1)

		e.metrics.IncrementActiveJobs()
		defer e.metrics.DecrementActiveJobs()

		err := work(e.ctx)
		switch {
		case err == nil:
		case errors.Is(err, jobs.ErrJobFinished):
			slog.Info("Job finished elsewhere, stopping", "job", jobID)
		default:
			e.fail(jobID, err)
		}
	}()
}

func (e *Executor) extract(ctx context.Context, jobID string, document []byte) error {
	start := time.Now()
	raw, err := e.extractor.Extract(ctx, document)
	e.metrics.RecordExtractDuration(time.Since(start))
	if err != nil {
		slog.Error("Text extraction failed", "job", jobID, "error", err)
		return fmt.Errorf("failed to read PDF: %w", err)
	}

	cleaned := textproc.Clean(raw)
	if cleaned == "" {
		return errors.New(MsgNoReadableText)
	}
	chunks, truncated := textproc.Limit(textproc.Chunk(cleaned, e.opts.ChunkMaxChars), e.opts.MaxChunks)

	slog.Info("Document text ready", "job", jobID, "chars", len(cleaned), "chunks", len(chunks), "truncated", truncated)

	return e.update(ctx, types.JobUpdate{
		JobID:     jobID,
		Status:    types.StatusReady,
		Progress:  intPtr(ReadyProgress),
		Message:   MsgReady,
		Chunks:    chunks,
		Truncated: &truncated,
	})
}

func (e *Executor) synthesize(ctx context.Context, jobID string) error {
	job, err := e.store.Get(jobID)
	if err != nil {
		return err
	}
	if len(job.Chunks) == 0 {
		return errors.New(MsgNoReadableText)
	}

	start := time.Now()
	status := string(types.StatusError)
	defer func() { e.metrics.RecordSynthesisDuration(status, time.Since(start)) }()

	err = e.update(ctx, types.JobUpdate{
		JobID:    jobID,
		Status:   types.StatusGenerating,
		Progress: intPtr(ReadyProgress),
		Message:  synthesisMessage(ReadyProgress),
	})
	if err != nil {
		return err
	}

	n := len(job.Chunks)
	for i, chunk := range job.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The deadline may have passed before the store timer fired.
		if !e.store.IsActive(jobID) {
			return jobs.ErrJobFinished
		}

		audio, err := e.synth.Synthesize(ctx, chunk, job.Voice)
		if err != nil {
			return fmt.Errorf("synthesis failed on chunk %d of %d: %w", i+1, n, err)
		}
		if err := e.store.AppendAudio(jobID, audio); err != nil {
			return fmt.Errorf("failed to store audio: %w", err)
		}
		e.metrics.RecordChunk(len(audio))

		progress := ReadyProgress + (100-ReadyProgress)*(i+1)/n
		err = e.store.UpdateProgress(types.JobUpdate{
			JobID:     jobID,
			Status:    types.StatusGenerating,
			Progress:  &progress,
			Message:   synthesisMessage(progress),
			Timestamp: time.Now(),
		})
		if err != nil {
			return err
		}
		slog.Debug("Chunk synthesized", "job", jobID, "chunk", i+1, "of", n, "bytes", len(audio))
	}

	err = e.update(ctx, types.JobUpdate{
		JobID:    jobID,
		Status:   types.StatusDone,
		Progress: intPtr(100),
		Message:  MsgComplete,
	})
	if err != nil {
		return err
	}

	status = string(types.StatusDone)
	e.metrics.RecordJobFinished(status)
	slog.Info("Job complete", "job", jobID, "chunks", n, "duration", time.Since(start))
	return nil
}

// update applies a status transition and publishes it.
func (e *Executor) update(ctx context.Context, u types.JobUpdate) error {
	u.Timestamp = time.Now()
	if err := e.store.Update(u); err != nil {
		return err
	}
	if err := e.publisher.Publish(ctx, u); err != nil {
		slog.Warn("Failed to publish job event", "job", u.JobID, "status", u.Status, "error", err)
	}
	return nil
}

func (e *Executor) fail(jobID string, cause error) {
	slog.Error("Job failed", "job", jobID, "error", cause)

	// The job context may already be gone; record the failure anyway.
	err := e.update(context.WithoutCancel(e.ctx), types.JobUpdate{
		JobID:  jobID,
		Status: types.StatusError,
		Error:  cause.Error(),
	})
	if err != nil {
		slog.Warn("Failed to mark job as failed", "job", jobID, "error", err)
		return
	}
	e.metrics.RecordJobFinished(string(types.StatusError))
}

func synthesisMessage(progress int) string {
	return fmt.Sprintf("Synthesizing audio (%d%%)...", progress)
}

func intPtr(v int) *int { return &v }
