package convert

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voiceify/voiceify/pkg/types"
)

// ErrUnknownVoice is returned when a job asks for a voice outside the catalogue
var ErrUnknownVoice = errors.New("Unknown voice")

// SubmitDocument creates a queued job for a PDF and starts extracting it.
func (e *Executor) SubmitDocument(document []byte, voice string) (string, error) {
	voice, err := e.resolveVoice(voice)
	if err != nil {
		return "", err
	}

	job := e.newJob(types.SourceDocument, voice)
	job.Status = types.StatusQueued
	job.Message = MsgReadingDocument
	if err := e.store.Create(job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	e.metrics.RecordJobCreated(string(types.SourceDocument))
	slog.Info("Document job created", "job", job.ID, "bytes", len(document), "voice", voice)

	e.ProcessDocument(job.ID, document)
	return job.ID, nil
}

// SubmitText creates a job for plain text, ready for synthesis, and starts it.
func (e *Executor) SubmitText(text, voice string) (string, error) {
	voice, err := e.resolveVoice(voice)
	if err != nil {
		return "", err
	}
	chunks, truncated, err := e.PrepareText(text)
	if err != nil {
		return "", err
	}

	job := e.newJob(types.SourceText, voice)
	job.Status = types.StatusReady
	job.Progress = ReadyProgress
	job.Message = MsgReady
	job.Chunks = chunks
	job.Truncated = truncated
	if err := e.store.Create(job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	e.metrics.RecordJobCreated(string(types.SourceText))
	slog.Info("Text job created", "job", job.ID, "chunks", len(chunks), "truncated", truncated, "voice", voice)

	e.ProcessText(job.ID)
	return job.ID, nil
}

func (e *Executor) newJob(source types.Source, voice string) *types.Job {
	return &types.Job{
		ID:         uuid.New().String(),
		Source:     source,
		Voice:      voice,
		TimeoutSec: int(e.opts.JobTimeout.Seconds()),
	}
}

func (e *Executor) resolveVoice(voice string) (string, error) {
	voice = e.opts.Voices.Resolve(voice)
	if !e.opts.Voices.Allowed(voice) {
		return "", fmt.Errorf("%w: %s", ErrUnknownVoice, voice)
	}
	return voice, nil
}
