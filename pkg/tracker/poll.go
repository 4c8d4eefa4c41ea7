package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/voiceify/voiceify/pkg/types"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 10 * time.Second
)

// PollingWatcher follows a job by fetching its status on a fixed interval.
// Failed requests are logged and retried on the next tick without limit.
type PollingWatcher struct {
	poller   StatusPoller
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPollingWatcher creates a polling Source. Zero durations select the defaults.
func NewPollingWatcher(poller StatusPoller, interval, timeout time.Duration, logger *slog.Logger) *PollingWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		poller:   poller,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

func (w *PollingWatcher) Name() string { return "poll" }

// Watch implements Source. The first request is issued immediately.
func (w *PollingWatcher) Watch(ctx context.Context, job types.JobHandle, obs Observer) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last types.Status
	for {
		if w.poll(ctx, job, obs, &last) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll issues one request and reports whether watching should stop.
func (w *PollingWatcher) poll(ctx context.Context, job types.JobHandle, obs Observer, last *types.Status) bool {
	// Cancellation stops future ticks but does not abort a request already on
	// the wire; its result is dropped below instead.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	ev, err := w.poller.PollStatus(reqCtx, job)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		w.logger.Warn("Status poll failed, will retry", "job", job, "error", err)
		return false
	}

	switch ev.Status {
	case types.StatusError:
		reason := ev.Message
		if reason == "" {
			reason = "Unknown error"
		}
		obs.OnError(Failure{
			Reason:     reason,
			LastStatus: *last,
			Kind:       FailureExplicit,
			Err:        &types.ExplicitJobError{Reason: reason},
		})
		return true
	case types.StatusDone:
		obs.OnUpdate(ev)
		obs.OnDone(ev)
		return true
	default:
		obs.OnUpdate(ev)
		*last = ev.Status
		return false
	}
}
