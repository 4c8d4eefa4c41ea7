// Package tracker follows a submitted conversion job to its single terminal
// outcome.
//
// A Tracker first subscribes to the job's status stream. If the stream drops
// while the job is known to be mid-flight (generating or ready) the tracker
// closes it and resumes with interval polling; any other failure is surfaced
// as the job's error. Whatever happens underneath, the caller sees exactly
// one OnDone or OnError per job, and nothing at all after Cancel.
//
// All hooks run on the tracker's own goroutine, one at a time, in the order
// events arrived. Hooks must not block indefinitely. Calling Cancel from
// inside a hook is allowed. Once Cancel returns no hook starts any more; a
// hook that was already running when Cancel was called may still finish.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voiceify/voiceify/pkg/types"
)

// ErrAlreadyStarted is returned by Start on a tracker that was started or canceled before.
var ErrAlreadyStarted = errors.New("tracker already started")

// State of a Tracker
type State int

const (
	StateIdle State = iota
	StateStreaming
	StatePolling
	StateDone
	StateFailed
	StateCanceled
)

var stateNames = [...]string{"idle", "streaming", "polling", "done", "failed", "canceled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the tracker has stopped for good.
func (s State) Terminal() bool {
	return s >= StateDone
}

// Hooks are the caller's callbacks. Any of them may be nil.
type Hooks struct {
	// OnProgress receives every non-error status, including the final done.
	OnProgress func(ev types.StatusEvent)
	// OnReady fires once, the first time the job reports ready.
	OnReady func()
	// OnDone fires once on success. artifact is nil if it could not be retrieved.
	OnDone func(artifact *types.Artifact, meta types.ArtifactMetadata)
	// OnError fires once on failure with a human-readable reason.
	OnError func(reason string)
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLogger sets the logger used by the tracker and its watchers.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithPollInterval sets the fallback polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) { t.pollInterval = d }
}

// WithPollTimeout bounds each fallback status request.
func WithPollTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.pollTimeout = d }
}

// WithFetchTimeout bounds artifact retrieval after success.
func WithFetchTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.fetchTimeout = d }
}

// Tracker owns the progress lifecycle of one job.
type Tracker struct {
	job     types.JobHandle
	hooks   Hooks
	stream  Source
	poll    Source
	fetcher *ResultFetcher
	logger  *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
	fetchTimeout time.Duration

	signals  chan signal
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	canceled atomic.Bool

	// hookMu is held while a hook is dispatched; inHook is set while one runs.
	hookMu sync.Mutex
	inHook atomic.Bool

	mu      sync.Mutex
	state   State
	outcome *types.Outcome

	// Owned by the loop goroutine once started.
	ctx       context.Context
	session   *session
	sessions  uint64
	readySent bool
}

// New creates an idle tracker for job. Nothing happens until Start.
func New(job types.JobHandle, gw Gateway, hooks Hooks, opts ...Option) *Tracker {
	t := &Tracker{
		job:     job,
		hooks:   hooks,
		logger:  slog.Default(),
		signals: make(chan signal),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.stream = NewStreamWatcher(gw, t.logger)
	t.poll = NewPollingWatcher(gw, t.pollInterval, t.pollTimeout, t.logger)
	t.fetcher = NewResultFetcher(gw, t.fetchTimeout, t.logger)
	return t
}

// Job returns the tracked job's handle.
func (t *Tracker) Job() types.JobHandle { return t.job }

// Start subscribes to the job's status stream. Canceling ctx is equivalent
// to calling Cancel.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return ErrAlreadyStarted
	}
	t.state = StateStreaming

	loopCtx, cancel := context.WithCancel(ctx)
	t.ctx = loopCtx
	stopAfter := context.AfterFunc(ctx, t.Cancel)

	t.logger.Debug("Tracking job", "job", t.job)
	t.openSession(t.stream)

	go func() {
		defer stopAfter()
		defer cancel()
		t.run()
	}()
	return nil
}

// Cancel stops tracking. The active watcher is closed and no hook starts
// after Cancel returns. Cancel after the job reached its outcome is a no-op.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	switch {
	case t.state.Terminal():
	case t.state == StateIdle:
		t.canceled.Store(true)
		t.state = StateCanceled
		close(t.done)
	default:
		t.canceled.Store(true)
		t.stopOnce.Do(func() { close(t.stop) })
	}
	t.mu.Unlock()

	// A hook may have passed its cancellation check without having started.
	// Wait for it, unless Cancel was called while a hook is running.
	if !t.inHook.Load() {
		t.hookMu.Lock()
		t.hookMu.Unlock()
	}
}

// Done is closed once the tracker has stopped and all hooks have returned.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// State returns the tracker's current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Outcome returns the terminal outcome once the job is done or failed.
func (t *Tracker) Outcome() (types.Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcome == nil {
		return types.Outcome{}, false
	}
	return *t.outcome, true
}

func (t *Tracker) run() {
	defer close(t.done)

	for {
		select {
		case <-t.stop:
			t.abort()
			return
		case sig := <-t.signals:
			if t.session == nil || t.session.closed || sig.session != t.session.id {
				continue
			}
			t.handle(sig)
			if t.State().Terminal() {
				return
			}
		}
	}
}

func (t *Tracker) handle(sig signal) {
	if t.State().Terminal() || t.canceled.Load() {
		return
	}

	switch sig.kind {
	case signalUpdate:
		ev := sig.event
		t.session.last = ev.Status
		t.emitProgress(ev)
		if ev.Status == types.StatusReady && !t.readySent {
			t.readySent = true
			t.emitReady()
		}
		if ev.Status == types.StatusDone {
			t.finishDone()
		}
	case signalDone:
		t.finishDone()
	case signalFailed:
		t.fail(sig.failure)
	}
}

func (t *Tracker) fail(f Failure) {
	eligible := t.State() == StateStreaming &&
		f.Kind == FailureTransport &&
		t.session.last.MidFlight()

	// The stream must be fully released before the poller starts.
	t.closeSession(eligible)

	if eligible {
		t.mu.Lock()
		if t.canceled.Load() {
			t.mu.Unlock()
			return
		}
		t.state = StatePolling
		t.mu.Unlock()

		t.logger.Info("Status stream lost mid-flight, falling back to polling",
			"job", t.job, "lastStatus", t.session.last, "error", f.Err)
		t.openSession(t.poll)
		return
	}

	if !t.transition(StateFailed, &types.Outcome{Kind: types.OutcomeFailed, Reason: f.Reason}) {
		return
	}
	t.logger.Info("Job failed", "job", t.job, "reason", f.Reason, "kind", f.Kind)
	if t.hooks.OnError != nil {
		t.invoke(func() { t.hooks.OnError(f.Reason) })
	}
}

func (t *Tracker) finishDone() {
	t.closeSession(false)
	if !t.transition(StateDone, nil) {
		return
	}

	// Cancel is a no-op from here on, and the caller's context no longer
	// matters for delivering a result that already exists.
	artifact, meta := t.fetcher.Fetch(context.WithoutCancel(t.ctx), t.job)

	t.mu.Lock()
	t.outcome = &types.Outcome{Kind: types.OutcomeDone, Artifact: artifact, Metadata: meta}
	t.mu.Unlock()

	t.logger.Info("Job done", "job", t.job, "bytes", meta.Size, "truncated", meta.Truncated)
	if t.hooks.OnDone != nil {
		t.invoke(func() { t.hooks.OnDone(artifact, meta) })
	}
}

// transition moves to a terminal state unless Cancel got there first.
func (t *Tracker) transition(to State, outcome *types.Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled.Load() || t.state.Terminal() {
		return false
	}
	t.state = to
	if outcome != nil {
		t.outcome = outcome
	}
	return true
}

func (t *Tracker) abort() {
	t.closeSession(false)

	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = StateCanceled
	}
	t.mu.Unlock()

	t.logger.Debug("Stopped tracking job", "job", t.job)
}

func (t *Tracker) emitProgress(ev types.StatusEvent) {
	if t.hooks.OnProgress != nil {
		t.invoke(func() { t.hooks.OnProgress(ev) })
	}
}

func (t *Tracker) emitReady() {
	if t.hooks.OnReady != nil {
		t.invoke(func() { t.hooks.OnReady() })
	}
}

// invoke runs hook unless the tracker was canceled. The check and the call
// happen under hookMu so that Cancel can wait for a dispatch in between.
func (t *Tracker) invoke(hook func()) {
	t.hookMu.Lock()
	defer t.hookMu.Unlock()

	if t.canceled.Load() {
		return
	}
	t.inHook.Store(true)
	defer t.inHook.Store(false)
	hook()
}
