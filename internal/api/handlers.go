// Package api implements the gateway's HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/voiceify/voiceify/internal/convert"
	"github.com/voiceify/voiceify/internal/jobs"
	"github.com/voiceify/voiceify/internal/metrics"
	mcptools "github.com/voiceify/voiceify/internal/mcp"
	"github.com/voiceify/voiceify/pkg/types"
)

const (
	defaultMaxUploadBytes = 50 << 20
	defaultPollInterval   = 250 * time.Millisecond
)

// Submitter starts conversion jobs
type Submitter interface {
	SubmitDocument(document []byte, voice string) (string, error)
	SubmitText(text, voice string) (string, error)
}

// Handler provides the HTTP endpoints for job submission and tracking
type Handler struct {
	jobStore       jobs.JobStore
	submitter      Submitter
	tools          *mcptools.Server
	metrics        *metrics.Metrics
	maxUploadBytes int64
	pollInterval   time.Duration
}

// Option configures a Handler
type Option func(*Handler)

// WithMaxUploadBytes limits request bodies of the upload endpoints
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) { h.maxUploadBytes = n }
}

// WithPollInterval sets how often streams re-read a job besides store notifications
func WithPollInterval(d time.Duration) Option {
	return func(h *Handler) { h.pollInterval = d }
}

// WithMetrics records stream connections
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTools enables POST /tools/call
func WithTools(s *mcptools.Server) Option {
	return func(h *Handler) { h.tools = s }
}

// NewHandler creates a new HTTP handler for job management
func NewHandler(jobStore jobs.JobStore, submitter Submitter, opts ...Option) *Handler {
	h := &Handler{
		jobStore:       jobStore,
		submitter:      submitter,
		maxUploadBytes: defaultMaxUploadBytes,
		pollInterval:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleUpload handles POST /upload (multipart "file" plus optional "voice")
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "Uploaded file must be a PDF")
		return
	}

	document, err := io.ReadAll(file)
	if err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	jobID, err := h.submitter.SubmitDocument(document, r.FormValue("voice"))
	if err != nil {
		h.submitError(w, err)
		return
	}

	slog.Debug("Document accepted", "job", jobID, "file", header.Filename, "bytes", len(document))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// HandleUploadText handles POST /upload-text (form "text" plus optional "voice")
func (h *Handler) HandleUploadText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseForm(); err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Text is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form body")
		return
	}

	jobID, err := h.submitter.SubmitText(r.FormValue("text"), r.FormValue("voice"))
	if err != nil {
		h.submitError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (h *Handler) submitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, convert.ErrUnknownVoice):
		writeError(w, http.StatusBadRequest, convert.ErrUnknownVoice.Error())
	case errors.Is(err, convert.ErrEmptyText), errors.Is(err, convert.ErrNothingToSpeak):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Failed to submit job", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create job")
	}
}

// HandleJobs dispatches every /jobs/{id}[/...] route
func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobID, suffix := splitJobPath(r.URL.Path)
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "Job ID required")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch suffix {
	case "":
		h.HandleJobStatus(w, r, jobID)
	case "stream":
		h.HandleJobStream(w, r, jobID)
	case "audio":
		h.HandleAudio(w, r, jobID)
	case "audio/stream":
		h.HandleAudioStream(w, r, jobID)
	case "updates":
		h.HandleJobUpdates(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// splitJobPath turns "/jobs/abc/audio/stream" into ("abc", "audio/stream")
func splitJobPath(path string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, "/jobs/"), "/")
	jobID, suffix, _ := strings.Cut(rest, "/")
	return jobID, suffix
}

// HandleJobStatus handles GET /jobs/{id}
func (h *Handler) HandleJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok := h.getJob(w, jobID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// UpdateHistory is implemented by stores that keep every state change of a job
type UpdateHistory interface {
	GetUpdates(jobID string, since *time.Time) ([]types.JobUpdate, error)
}

// HandleJobUpdates handles GET /jobs/{id}/updates[?since=RFC3339]
func (h *Handler) HandleJobUpdates(w http.ResponseWriter, r *http.Request, jobID string) {
	history, ok := h.jobStore.(UpdateHistory)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Update history requires a persistent job store")
		return
	}
	if _, ok := h.getJob(w, jobID); !ok {
		return
	}

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp")
			return
		}
		since = &t
	}

	updates, err := history.GetUpdates(jobID, since)
	if err != nil {
		slog.Error("Failed to load job updates", "job", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load job updates")
		return
	}
	if updates == nil {
		updates = []types.JobUpdate{}
	}
	writeJSON(w, http.StatusOK, updates)
}

// HandleAudio handles GET /jobs/{id}/audio
func (h *Handler) HandleAudio(w http.ResponseWriter, r *http.Request, jobID string) {
	job, ok := h.getJob(w, jobID)
	if !ok {
		return
	}

	switch job.Status {
	case types.StatusDone:
	case types.StatusError:
		writeError(w, http.StatusBadRequest, job.Event().Message)
		return
	default:
		writeError(w, http.StatusConflict, "Audio is not ready yet")
		return
	}

	audio, err := h.jobStore.Audio(jobID, 0)
	if err != nil {
		slog.Error("Failed to load audio", "job", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load audio")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="voiceify-%s.mp3"`, jobID))
	w.Header().Set("Content-Length", fmt.Sprint(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// HandleToolCall handles POST /tools/call (REST endpoint for MCP tool calls)
// This provides a simpler REST interface without requiring MCP session management
func (h *Handler) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Tool name is required")
		return
	}

	if h.tools == nil {
		writeError(w, http.StatusInternalServerError, "MCP server not initialized")
		return
	}
	handler := h.tools.ToolHandler(req.Name)
	if handler == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Tool %q not found", req.Name))
		return
	}

	result, err := handler(r.Context(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		slog.Error("Tool call failed", "tool", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Tool call failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (h *Handler) getJob(w http.ResponseWriter, jobID string) (*types.Job, bool) {
	job, err := h.jobStore.Get(jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load job", "job", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load job")
		return nil, false
	}
	return job, true
}

// waitForChange blocks until the store reports an update, the poll interval
// passes, or ctx ends. It returns false when ctx ended.
func (h *Handler) waitForChange(ctx context.Context, updates <-chan types.JobUpdate) bool {
	timer := time.NewTimer(h.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-updates:
	case <-timer.C:
	}
	return true
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError sends {"detail": message}
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}
