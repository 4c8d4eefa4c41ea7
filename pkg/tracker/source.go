package tracker

import (
	"context"

	"github.com/voiceify/voiceify/pkg/types"
)

// StreamOpener opens a server-push status channel for a job.
type StreamOpener interface {
	OpenStatusStream(ctx context.Context, job types.JobHandle) (types.EventStream, error)
}

// StatusPoller fetches a single status snapshot for a job.
type StatusPoller interface {
	PollStatus(ctx context.Context, job types.JobHandle) (types.StatusEvent, error)
}

// ArtifactFetcher retrieves a finished job's audio and its metadata.
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, job types.JobHandle) (*types.Artifact, error)
	FetchMetadata(ctx context.Context, job types.JobHandle) (types.ArtifactMetadata, error)
}

// Gateway is everything a tracker needs from the conversion service.
type Gateway interface {
	StreamOpener
	StatusPoller
	ArtifactFetcher
}

// FailureKind distinguishes why a watcher stopped.
type FailureKind int

const (
	// FailureTransport means the channel itself broke.
	FailureTransport FailureKind = iota
	// FailureExplicit means the server reported the job as failed.
	FailureExplicit
)

func (k FailureKind) String() string {
	if k == FailureExplicit {
		return "explicit"
	}
	return "transport"
}

// Failure is reported by a watcher when it stops without a done status.
type Failure struct {
	Reason     string
	LastStatus types.Status // empty when no event was ever observed
	Kind       FailureKind
	Err        error
}

// Observer receives a watcher's events. Calls arrive in order from a single
// goroutine.
type Observer interface {
	OnUpdate(ev types.StatusEvent)
	OnDone(ev types.StatusEvent)
	OnError(f Failure)
}

// Source is a status-reporting channel for one job. Watch blocks until the
// job is terminal for this source, the source fails, or ctx is canceled.
// After ctx is canceled Watch must not call the observer.
type Source interface {
	Name() string
	Watch(ctx context.Context, job types.JobHandle, obs Observer)
}
