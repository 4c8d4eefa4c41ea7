// Package client talks to a voiceify gateway over HTTP. A Client satisfies
// tracker.Gateway and also submits new jobs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voiceify/voiceify/pkg/types"
)

// DefaultTimeout bounds ordinary request/response calls. Status streams are
// not subject to it.
const DefaultTimeout = 60 * time.Second

// ErrEmptySubmission is returned by Submit when neither a document nor text is set.
var ErrEmptySubmission = errors.New("nothing to submit")

// Client is a gateway HTTP client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		streamClient: &http.Client{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamClient.Transport == nil {
		c.streamClient.Transport = c.httpClient.Transport
	}
	return c
}

// BaseURL returns the gateway address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) jobURL(job types.JobHandle, suffix string) string {
	return fmt.Sprintf("%s/jobs/%s%s", c.baseURL, url.PathEscape(job.String()), suffix)
}

// Submit uploads a document or text and returns the new job's handle. All
// failures are reported as *types.SubmissionError.
func (c *Client) Submit(ctx context.Context, sub types.Submission) (types.JobHandle, error) {
	var (
		req *http.Request
		err error
	)
	switch {
	case sub.Document != nil:
		req, err = c.documentRequest(ctx, sub)
	case sub.Text != "":
		req, err = c.textRequest(ctx, sub)
	default:
		return "", &types.SubmissionError{Err: ErrEmptySubmission}
	}
	if err != nil {
		return "", &types.SubmissionError{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &types.SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &types.SubmissionError{
			StatusCode: resp.StatusCode,
			Detail:     readDetail(resp.Body),
		}
	}

	var body struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &types.SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if body.JobID == "" {
		return "", &types.SubmissionError{StatusCode: resp.StatusCode, Err: errors.New("response carries no job id")}
	}

	c.logger.Debug("Job submitted", "job", body.JobID)
	return types.JobHandle(body.JobID), nil
}

func (c *Client) documentRequest(ctx context.Context, sub types.Submission) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := sub.FileName
	if name == "" {
		name = "document.pdf"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(sub.Document); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}
	if sub.Voice != "" {
		if err := mw.WriteField("voice", sub.Voice); err != nil {
			return nil, fmt.Errorf("failed to write voice: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *Client) textRequest(ctx context.Context, sub types.Submission) (*http.Request, error) {
	form := url.Values{}
	form.Set("text", sub.Text)
	if sub.Voice != "" {
		form.Set("voice", sub.Voice)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-text", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// OpenStatusStream subscribes to the job's server-sent status events.
func (c *Client) OpenStatusStream(ctx context.Context, job types.JobHandle) (types.EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(job, "/stream"), nil)
	if err != nil {
		return nil, &types.StreamTransportError{Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &types.StreamTransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		detail := readDetail(resp.Body)
		resp.Body.Close()
		return nil, &types.StreamTransportError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, detail)}
	}

	return newEventStream(resp.Body), nil
}

// Status fetches the job's full snapshot.
func (c *Client) Status(ctx context.Context, job types.JobHandle) (types.JobSnapshot, error) {
	var snap types.JobSnapshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(job, ""), nil)
	if err != nil {
		return snap, &types.TransientFetchError{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, &types.TransientFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return snap, &types.TransientFetchError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, &types.TransientFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode status: %w", err)}
	}
	return snap, nil
}

// PollStatus fetches one status snapshot, normalized to a StatusEvent.
func (c *Client) PollStatus(ctx context.Context, job types.JobHandle) (types.StatusEvent, error) {
	snap, err := c.Status(ctx, job)
	if err != nil {
		return types.StatusEvent{}, err
	}
	return snap.Event(), nil
}

// FetchArtifact downloads the finished audio.
func (c *Client) FetchArtifact(ctx context.Context, job types.JobHandle) (*types.Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(job, "/audio"), nil)
	if err != nil {
		return nil, &types.ArtifactFetchError{Err: err}
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &types.ArtifactFetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fetchErr := &types.ArtifactFetchError{StatusCode: resp.StatusCode}
		if detail := readDetail(resp.Body); detail != "" {
			fetchErr.Err = errors.New(detail)
		}
		return nil, fetchErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.ArtifactFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read audio: %w", err)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &types.Artifact{JobID: job, ContentType: contentType, Data: data}, nil
}

// FetchMetadata reports result caveats, currently whether the input was truncated.
func (c *Client) FetchMetadata(ctx context.Context, job types.JobHandle) (types.ArtifactMetadata, error) {
	snap, err := c.Status(ctx, job)
	if err != nil {
		return types.ArtifactMetadata{}, err
	}
	return types.ArtifactMetadata{Truncated: snap.Truncated}, nil
}

// readDetail extracts a human-readable message from an error response.
func readDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return err.Error()
	}

	var payload struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}
