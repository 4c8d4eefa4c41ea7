package tracker

import (
	"context"
	"log/slog"

	"github.com/voiceify/voiceify/pkg/types"
)

// ConnectionLost is the reason reported when the status stream drops.
const ConnectionLost = "Connection lost"

// StreamWatcher follows a job over a server-push status stream. It never
// retries; recovering from a dropped stream is the tracker's job.
type StreamWatcher struct {
	opener StreamOpener
	logger *slog.Logger
}

// NewStreamWatcher creates a stream-backed Source
func NewStreamWatcher(opener StreamOpener, logger *slog.Logger) *StreamWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamWatcher{opener: opener, logger: logger}
}

func (w *StreamWatcher) Name() string { return "stream" }

// Watch implements Source.
func (w *StreamWatcher) Watch(ctx context.Context, job types.JobHandle, obs Observer) {
	stream, err := w.opener.OpenStatusStream(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("Failed to open status stream", "job", job, "error", err)
		obs.OnError(Failure{
			Reason: ConnectionLost,
			Kind:   FailureTransport,
			Err:    &types.StreamTransportError{Err: err},
		})
		return
	}
	defer stream.Close()

	// Unblock Next when the session is closed from outside.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	var last types.Status
	for {
		ev, err := stream.Next()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn("Status stream lost", "job", job, "lastStatus", last, "error", err)
			obs.OnError(Failure{
				Reason:     ConnectionLost,
				LastStatus: last,
				Kind:       FailureTransport,
				Err:        &types.StreamTransportError{Err: err},
			})
			return
		}

		if ev.Status == types.StatusError {
			reason := ev.Message
			if reason == "" {
				reason = "Unknown error"
			}
			obs.OnError(Failure{
				Reason:     reason,
				LastStatus: last,
				Kind:       FailureExplicit,
				Err:        &types.ExplicitJobError{Reason: reason},
			})
			return
		}

		obs.OnUpdate(ev)
		last = ev.Status

		if ev.Status == types.StatusDone {
			return
		}
	}
}
