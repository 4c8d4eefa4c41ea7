package types

import "time"

// JobHandle identifies one submitted conversion job. It is opaque to clients.
type JobHandle string

// String returns the raw identifier.
func (h JobHandle) String() string { return string(h) }

// Status represents the current state of a conversion job
type Status string

const (
	StatusQueued     Status = "queued"
	StatusReady      Status = "ready"
	StatusGenerating Status = "generating"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal reports whether no further events are meaningful after s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// MidFlight reports whether a job in status s was actively progressing.
// A lost status stream is worth resuming by polling only in these states.
func (s Status) MidFlight() bool {
	return s == StatusGenerating || s == StatusReady
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusReady, StatusGenerating, StatusDone, StatusError:
		return true
	}
	return false
}

// StatusEvent is a normalized progress report, identical whether it came from
// the status stream or a poll.
type StatusEvent struct {
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// Source of a job's text
type Source string

const (
	SourceDocument Source = "document"
	SourceText     Source = "text"
)

// Job represents a conversion job held by the gateway
type Job struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Source     Source    `json:"source"`
	Voice      string    `json:"voice"`
	Progress   int       `json:"progress"`
	Message    string    `json:"message"`
	Error      string    `json:"error,omitempty"`
	Truncated  bool      `json:"truncated"`
	Chunks     []string  `json:"-"`
	TimeoutSec int       `json:"timeout_seconds,omitempty"` // Total timeout in seconds
	Deadline   time.Time `json:"deadline,omitempty"`        // Absolute deadline
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Event returns the job's current state as a StatusEvent. Failed jobs carry
// their error as the message.
func (j *Job) Event() StatusEvent {
	ev := StatusEvent{Status: j.Status, Progress: j.Progress, Message: j.Message}
	if j.Status == StatusError {
		ev.Message = j.Error
		if ev.Message == "" {
			ev.Message = "Unknown error"
		}
	}
	return ev
}

// Snapshot returns the poll representation of the job.
func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		Error:     j.Error,
		Truncated: j.Truncated,
	}
}

// JobSnapshot is the body of GET /jobs/{id}
type JobSnapshot struct {
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated"`
}

// Event normalizes a snapshot into a StatusEvent.
func (s JobSnapshot) Event() StatusEvent {
	ev := StatusEvent{Status: s.Status, Progress: s.Progress, Message: s.Message}
	if s.Status == StatusError {
		if s.Error != "" {
			ev.Message = s.Error
		}
		if ev.Message == "" {
			ev.Message = "Unknown error"
		}
	}
	return ev
}

// JobUpdate represents a state change for a job
type JobUpdate struct {
	JobID     string    `json:"job_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Progress  *int      `json:"progress,omitempty"`
	Chunks    []string  `json:"-"`
	Truncated *bool     `json:"truncated,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Submission is the payload handed to the upload endpoints. Exactly one of
// Document or Text is set.
type Submission struct {
	FileName string
	Document []byte
	Text     string
	Voice    string
}
