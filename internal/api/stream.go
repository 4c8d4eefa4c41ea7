package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/voiceify/voiceify/pkg/types"
)

// HandleJobStream handles GET /jobs/{id}/stream (SSE). Every distinct
// (status, progress, message) is sent once as an "event: status" frame and
// the stream ends after done or error. An unknown job gets a single error
// frame.
func (h *Handler) HandleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	updates := h.jobStore.Subscribe(jobID)
	defer h.jobStore.Unsubscribe(jobID, updates)

	var last *types.StatusEvent
	for {
		job, err := h.jobStore.Get(jobID)
		if err != nil {
			h.sendStatus(w, flusher, types.StatusEvent{Status: types.StatusError, Message: "Job not found"})
			return
		}

		ev := job.Event()
		if last == nil || *last != ev {
			if err := h.sendStatus(w, flusher, ev); err != nil {
				slog.Debug("Status stream client gone", "job", jobID, "error", err)
				return
			}
			last = &ev
		}

		if ev.Status.Terminal() {
			return
		}
		if !h.waitForChange(r.Context(), updates) {
			return
		}
	}
}

func (h *Handler) sendStatus(w http.ResponseWriter, flusher http.Flusher, ev types.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// HandleAudioStream handles GET /jobs/{id}/audio/stream. Audio is written as
// each chunk is synthesized; the response ends when the job is done. A job
// that fails mid-stream ends the response early.
func (h *Handler) HandleAudioStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok := h.getJob(w, jobID)
	if !ok {
		return
	}
	switch job.Status {
	case types.StatusQueued:
		writeError(w, http.StatusConflict, "Job is not ready yet")
		return
	case types.StatusError:
		writeError(w, http.StatusBadRequest, job.Event().Message)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	updates := h.jobStore.Subscribe(jobID)
	defer h.jobStore.Unsubscribe(jobID, updates)

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	offset := 0
	for {
		// Read the status before the audio so a done job has all its audio visible.
		job, err := h.jobStore.Get(jobID)
		if err != nil {
			slog.Error("Audio stream lost its job", "job", jobID, "error", err)
			return
		}

		audio, err := h.jobStore.Audio(jobID, offset)
		if err != nil {
			slog.Error("Failed to read audio", "job", jobID, "error", err)
			return
		}
		if len(audio) > 0 {
			if _, err := w.Write(audio); err != nil {
				slog.Debug("Audio stream client gone", "job", jobID, "error", err)
				return
			}
			flusher.Flush()
			offset += len(audio)
		}

		switch job.Status {
		case types.StatusDone:
			slog.Debug("Audio stream complete", "job", jobID, "bytes", offset)
			return
		case types.StatusError:
			slog.Warn("Job failed during audio stream", "job", jobID, "error", job.Error)
			return
		}

		if !h.waitForChange(r.Context(), updates) {
			return
		}
	}
}
