package jobs

import (
	"errors"

	"github.com/voiceify/voiceify/pkg/types"
)

var (
	// ErrJobNotFound is returned for an unknown job ID
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when a done or failed job is modified
	ErrJobFinished = errors.New("job already finished")
)

// JobStore defines the interface for job storage
type JobStore interface {
	// Create creates a new job in the status set by the caller
	Create(job *types.Job) error

	// Get retrieves a snapshot of a job by ID
	Get(id string) (*types.Job, error)

	// Update applies a state change
	Update(update types.JobUpdate) error

	// UpdateProgress updates progress and message only (lighter weight than Update)
	UpdateProgress(update types.JobUpdate) error

	// AppendAudio appends synthesized audio to the job's artifact
	AppendAudio(jobID string, data []byte) error

	// Audio returns the job's artifact bytes starting at offset
	Audio(jobID string, offset int) ([]byte, error)

	// Subscribe creates a listener channel for job updates
	Subscribe(jobID string) chan types.JobUpdate

	// Unsubscribe removes a listener channel
	Unsubscribe(jobID string, ch chan types.JobUpdate)

	// IsActive checks if a job is still active
	IsActive(jobID string) bool
}
