package jobs

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voiceify/voiceify/pkg/types"
)

//go:embed schema.sql
var schema string

const jobColumns = `id, status, source, voice, progress, message, error, truncated, chunks,
	timeout_sec, deadline, created_at, updated_at`

// PgStore manages job state in PostgreSQL
type PgStore struct {
	pool      *pgxpool.Pool
	mu        sync.RWMutex
	listeners map[string][]chan types.JobUpdate
	timers    map[string]*time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPgStore creates a new PostgreSQL-backed job store and applies the schema
func NewPgStore(ctx context.Context, connString string) (*PgStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	storeCtx, cancel := context.WithCancel(ctx)

	s := &PgStore{
		pool:      pool,
		listeners: make(map[string][]chan types.JobUpdate),
		timers:    make(map[string]*time.Timer),
		ctx:       storeCtx,
		cancel:    cancel,
	}

	go s.cleanupOldJobs()

	return s, nil
}

// Close closes the database connection pool
func (s *PgStore) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, timer := range s.timers {
		timer.Stop()
	}

	for jobID, listeners := range s.listeners {
		for _, ch := range listeners {
			close(ch)
		}
		delete(s.listeners, jobID)
	}

	s.pool.Close()
}

// Create creates a new job
func (s *PgStore) Create(job *types.Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = types.StatusQueued
	}

	var deadline *time.Time
	if job.TimeoutSec > 0 {
		d := now.Add(time.Duration(job.TimeoutSec) * time.Second)
		job.Deadline = d
		deadline = &d
	}

	query := `
		INSERT INTO jobs (id, status, source, voice, progress, message, error, truncated, chunks,
		                  timeout_sec, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.pool.Exec(s.ctx, query,
		job.ID,
		job.Status,
		job.Source,
		job.Voice,
		job.Progress,
		job.Message,
		job.Error,
		job.Truncated,
		job.Chunks,
		job.TimeoutSec,
		deadline,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	if job.TimeoutSec > 0 {
		s.mu.Lock()
		s.timers[job.ID] = time.AfterFunc(time.Duration(job.TimeoutSec)*time.Second, func() {
			s.handleTimeout(job.ID)
		})
		s.mu.Unlock()
	}

	return nil
}

// Get retrieves a job by ID
func (s *PgStore) Get(id string) (*types.Job, error) {
	row := s.pool.QueryRow(s.ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Update updates a job's state
func (s *PgStore) Update(update types.JobUpdate) error {
	query := `
		UPDATE jobs
		SET status = COALESCE(NULLIF($2, ''), status),
		    message = COALESCE(NULLIF($3, ''), message),
		    error = COALESCE(NULLIF($4, ''), error),
		    progress = COALESCE($5, progress),
		    chunks = COALESCE($6, chunks),
		    truncated = COALESCE($7, truncated),
		    updated_at = $8
		WHERE id = $1 AND status NOT IN ('done', 'error')
		RETURNING ` + jobColumns

	job, err := s.apply(update.JobID, query,
		update.JobID,
		string(update.Status),
		update.Message,
		update.Error,
		update.Progress,
		update.Chunks,
		update.Truncated,
		stamp(update.Timestamp),
	)
	if err != nil {
		return err
	}

	if job.Status.Terminal() {
		s.mu.Lock()
		s.cancelTimer(job.ID)
		s.mu.Unlock()
	}

	s.mu.RLock()
	s.notifyListeners(job)
	s.mu.RUnlock()

	return nil
}

// UpdateProgress updates job progress (more frequent, lighter update)
func (s *PgStore) UpdateProgress(update types.JobUpdate) error {
	if update.Status.Terminal() {
		return fmt.Errorf("progress update cannot finish job %s", update.JobID)
	}

	query := `
		UPDATE jobs
		SET status = COALESCE(NULLIF($2, ''), status),
		    progress = COALESCE($3, progress),
		    message = COALESCE(NULLIF($4, ''), message),
		    updated_at = $5
		WHERE id = $1 AND status NOT IN ('done', 'error')
		RETURNING ` + jobColumns

	job, err := s.apply(update.JobID, query,
		update.JobID,
		string(update.Status),
		update.Progress,
		update.Message,
		stamp(update.Timestamp),
	)
	if err != nil {
		return err
	}

	s.mu.RLock()
	s.notifyListeners(job)
	s.mu.RUnlock()

	return nil
}

// apply runs a guarded UPDATE and records the resulting state in job_updates
func (s *PgStore) apply(jobID, query string, args ...any) (*types.Job, error) {
	tx, err := s.pool.Begin(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(s.ctx)

	job, err := scanJob(tx.QueryRow(s.ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missing(tx, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	insertUpdateQuery := `
		INSERT INTO job_updates (job_id, status, message, error, progress, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(s.ctx, insertUpdateQuery,
		job.ID,
		job.Status,
		job.Message,
		job.Error,
		job.Progress,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job update: %w", err)
	}

	if err := tx.Commit(s.ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return job, nil
}

// missing explains why a guarded write matched no row
func (s *PgStore) missing(tx pgx.Tx, jobID string) error {
	var exists bool
	if err := tx.QueryRow(s.ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up job: %w", err)
	}
	if exists {
		return fmt.Errorf("job %s: %w", jobID, ErrJobFinished)
	}
	return fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
}

// AppendAudio appends synthesized audio to the job's artifact
func (s *PgStore) AppendAudio(jobID string, data []byte) error {
	tx, err := s.pool.Begin(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(s.ctx)

	job, err := scanJob(tx.QueryRow(s.ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND status NOT IN ('done', 'error') FOR UPDATE`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missing(tx, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock job: %w", err)
	}

	query := `
		INSERT INTO job_audio (job_id, data) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET data = job_audio.data || EXCLUDED.data
	`
	if _, err := tx.Exec(s.ctx, query, jobID, data); err != nil {
		return fmt.Errorf("failed to append audio: %w", err)
	}

	if err := tx.Commit(s.ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.mu.RLock()
	s.notifyListeners(job)
	s.mu.RUnlock()

	return nil
}

// Audio returns the job's artifact from offset on
func (s *PgStore) Audio(jobID string, offset int) ([]byte, error) {
	query := `
		SELECT a.data IS NOT NULL, COALESCE(substring(a.data FROM $2::int + 1), ''::bytea)
		FROM jobs j
		LEFT JOIN job_audio a ON a.job_id = j.id
		WHERE j.id = $1
	`

	var (
		hasAudio bool
		data     []byte
	)
	err := s.pool.QueryRow(s.ctx, query, jobID, max(offset, 0)).Scan(&hasAudio, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if !hasAudio || len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// GetUpdates retrieves the recorded state changes of a job, oldest first
func (s *PgStore) GetUpdates(jobID string, since *time.Time) ([]types.JobUpdate, error) {
	query := `
		SELECT job_id, status, message, error, progress, timestamp
		FROM job_updates
		WHERE job_id = $1 AND ($2::timestamptz IS NULL OR timestamp > $2)
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.pool.Query(s.ctx, query, jobID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates: %w", err)
	}
	defer rows.Close()

	var updates []types.JobUpdate
	for rows.Next() {
		var (
			update   types.JobUpdate
			progress int
		)
		if err := rows.Scan(
			&update.JobID,
			&update.Status,
			&update.Message,
			&update.Error,
			&progress,
			&update.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		update.Progress = &progress
		updates = append(updates, update)
	}

	return updates, rows.Err()
}

// Subscribe creates a listener channel for job updates
func (s *PgStore) Subscribe(jobID string) chan types.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan types.JobUpdate, 10)
	s.listeners[jobID] = append(s.listeners[jobID], ch)

	return ch
}

// Unsubscribe removes a listener channel
func (s *PgStore) Unsubscribe(jobID string, ch chan types.JobUpdate) {
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

// notifyListeners sends the job's state to all listeners (must hold read lock)
func (s *PgStore) notifyListeners(job *types.Job) {
	update := stateUpdate(job)
	for _, ch := range s.listeners[job.ID] {
		select {
		case ch <- update:
		default:
			// Channel full, skip
		}
	}
}

// IsActive checks if a job is still active
func (s *PgStore) IsActive(jobID string) bool {
	var status types.Status
	var deadline *time.Time

	err := s.pool.QueryRow(s.ctx, `SELECT status, deadline FROM jobs WHERE id = $1`, jobID).Scan(&status, &deadline)
	if err != nil {
		return false
	}

	if status.Terminal() {
		return false
	}

	if deadline != nil && time.Now().After(*deadline) {
		return false
	}

	return true
}

// handleTimeout handles job timeout (called by timer)
func (s *PgStore) handleTimeout(jobID string) {
	update := types.JobUpdate{
		JobID:     jobID,
		Status:    types.StatusError,
		Error:     timeoutError,
		Timestamp: time.Now(),
	}

	if err := s.Update(update); err != nil && !errors.Is(err, ErrJobFinished) {
		slog.Error("Failed to update timed out job", "job", jobID, "error", err)
	}

	s.mu.Lock()
	delete(s.timers, jobID)
	s.mu.Unlock()
}

// cancelTimer cancels and removes a timeout timer (must hold lock)
func (s *PgStore) cancelTimer(jobID string) {
	if timer, exists := s.timers[jobID]; exists {
		timer.Stop()
		delete(s.timers, jobID)
	}
}

// cleanupOldJobs periodically removes finished jobs older than a day, along
// with their audio and update history
func (s *PgStore) cleanupOldJobs() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-24 * time.Hour)
			tag, err := s.pool.Exec(s.ctx,
				`DELETE FROM jobs WHERE status IN ('done', 'error') AND updated_at < $1`, cutoff)
			if err != nil {
				slog.Error("Failed to clean up old jobs", "error", err)
				continue
			}
			if n := tag.RowsAffected(); n > 0 {
				slog.Info("Cleaned up old jobs", "count", n)
			}
		}
	}
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var deadline *time.Time

	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Source,
		&job.Voice,
		&job.Progress,
		&job.Message,
		&job.Error,
		&job.Truncated,
		&job.Chunks,
		&job.TimeoutSec,
		&deadline,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deadline != nil {
		job.Deadline = *deadline
	}
	return &job, nil
}
