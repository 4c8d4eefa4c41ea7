package jobs

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/voiceify/voiceify/pkg/types"
)

const timeoutError = "job timed out"

// Store manages job state in memory
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*types.Job
	audio     map[string][]byte
	listeners map[string][]chan types.JobUpdate
	timers    map[string]*time.Timer
}

// NewStore creates a new job store
func NewStore() *Store {
	return &Store{
		jobs:      make(map[string]*types.Job),
		audio:     make(map[string][]byte),
		listeners: make(map[string][]chan types.JobUpdate),
		timers:    make(map[string]*time.Timer),
	}
}

// Create creates a new job
func (s *Store) Create(job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = types.StatusQueued
	}

	// Set deadline if timeout specified
	if job.TimeoutSec > 0 {
		job.Deadline = now.Add(time.Duration(job.TimeoutSec) * time.Second)

		s.timers[job.ID] = time.AfterFunc(time.Duration(job.TimeoutSec)*time.Second, func() {
			s.handleTimeout(job.ID)
		})
	}

	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

// Get retrieves a job by ID. The returned job is a copy.
func (s *Store) Get(id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	snapshot := *job
	return &snapshot, nil
}

// Update updates a job's state
func (s *Store) Update(update types.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.mutable(update.JobID)
	if err != nil {
		return err
	}

	if update.Status != "" {
		job.Status = update.Status
	}
	if update.Message != "" {
		job.Message = update.Message
	}
	if update.Error != "" {
		job.Error = update.Error
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.Chunks != nil {
		job.Chunks = update.Chunks
	}
	if update.Truncated != nil {
		job.Truncated = *update.Truncated
	}
	job.UpdatedAt = stamp(update.Timestamp)

	// Cancel timeout timer if job reaches terminal state
	if job.Status.Terminal() {
		s.cancelTimer(update.JobID)
	}

	s.notifyListeners(job)
	return nil
}

// UpdateProgress updates job progress (lighter weight update for frequent progress reports)
func (s *Store) UpdateProgress(update types.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.mutable(update.JobID)
	if err != nil {
		return err
	}
	if update.Status.Terminal() {
		return fmt.Errorf("progress update cannot finish job %s", update.JobID)
	}

	if update.Status != "" {
		job.Status = update.Status
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.Message != "" {
		job.Message = update.Message
	}
	job.UpdatedAt = stamp(update.Timestamp)

	s.notifyListeners(job)
	return nil
}

// AppendAudio appends synthesized audio to the job's artifact
func (s *Store) AppendAudio(jobID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.mutable(jobID)
	if err != nil {
		return err
	}

	s.audio[jobID] = append(s.audio[jobID], data...)
	s.notifyListeners(job)
	return nil
}

// Audio returns a copy of the job's artifact from offset on
func (s *Store) Audio(jobID string, offset int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.jobs[jobID]; !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	data := s.audio[jobID]
	if offset >= len(data) {
		return nil, nil
	}
	return slices.Clone(data[max(offset, 0):]), nil
}

// Subscribe creates a listener channel for job updates
func (s *Store) Subscribe(jobID string) chan types.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan types.JobUpdate, 10)
	s.listeners[jobID] = append(s.listeners[jobID], ch)

	return ch
}

// Unsubscribe removes a listener channel
func (s *Store) Unsubscribe(jobID string, ch chan types.JobUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listeners := s.listeners[jobID]
	for i, listener := range listeners {
		if listener == ch {
			s.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			break
		}
	}

	if len(s.listeners[jobID]) == 0 {
		delete(s.listeners, jobID)
	}
}

// IsActive checks if a job is still active (not timed out or in terminal state)
func (s *Store) IsActive(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return false
	}

	if job.Status.Terminal() {
		return false
	}

	if !job.Deadline.IsZero() && time.Now().After(job.Deadline) {
		return false
	}

	return true
}

// mutable returns a job that may still change (must hold lock)
func (s *Store) mutable(jobID string) (*types.Job, error) {
	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobFinished)
	}
	return job, nil
}

// notifyListeners sends the job's current state to all listeners (must hold lock)
func (s *Store) notifyListeners(job *types.Job) {
	update := stateUpdate(job)
	for _, ch := range s.listeners[job.ID] {
		select {
		case ch <- update:
		default:
			// Channel full, skip
		}
	}
}

// handleTimeout handles job timeout (called by timer)
func (s *Store) handleTimeout(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return
	}

	// Only timeout if not already in terminal state
	if job.Status.Terminal() {
		return
	}

	job.Status = types.StatusError
	job.Error = timeoutError
	job.UpdatedAt = time.Now()

	s.notifyListeners(job)
	delete(s.timers, jobID)
}

// cancelTimer cancels and removes a timeout timer (must hold lock)
func (s *Store) cancelTimer(jobID string) {
	if timer, exists := s.timers[jobID]; exists {
		timer.Stop()
		delete(s.timers, jobID)
	}
}

// stateUpdate describes a job's full current state as an update
func stateUpdate(job *types.Job) types.JobUpdate {
	progress := job.Progress
	truncated := job.Truncated
	return types.JobUpdate{
		JobID:     job.ID,
		Status:    job.Status,
		Message:   job.Message,
		Error:     job.Error,
		Progress:  &progress,
		Truncated: &truncated,
		Timestamp: job.UpdatedAt,
	}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
