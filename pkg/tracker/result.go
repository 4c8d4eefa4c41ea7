package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/voiceify/voiceify/pkg/types"
)

const DefaultFetchTimeout = 2 * time.Minute

// ResultFetcher retrieves a finished job's artifact. A failed fetch is logged
// and yields a nil artifact; it never changes the job's outcome.
type ResultFetcher struct {
	fetcher ArtifactFetcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewResultFetcher creates a ResultFetcher. A zero timeout selects DefaultFetchTimeout.
func NewResultFetcher(fetcher ArtifactFetcher, timeout time.Duration, logger *slog.Logger) *ResultFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultFetcher{fetcher: fetcher, timeout: timeout, logger: logger}
}

// Fetch retrieves the artifact and its metadata for job.
func (f *ResultFetcher) Fetch(ctx context.Context, job types.JobHandle) (*types.Artifact, types.ArtifactMetadata) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var meta types.ArtifactMetadata
	artifact, err := f.fetcher.FetchArtifact(ctx, job)
	if err != nil {
		f.logger.Error("Failed to fetch artifact", "job", job, "error", err)
		artifact = nil
	} else {
		meta.Size = len(artifact.Data)
	}

	// Metadata is advisory; a miss leaves the zero value.
	m, err := f.fetcher.FetchMetadata(ctx, job)
	if err != nil {
		f.logger.Warn("Failed to fetch job metadata", "job", job, "error", err)
	} else {
		meta.Truncated = m.Truncated
	}

	return artifact, meta
}
