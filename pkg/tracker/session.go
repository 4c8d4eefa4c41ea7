package tracker

import (
	"context"

	"github.com/voiceify/voiceify/pkg/types"
)

type signalKind int

const (
	signalUpdate signalKind = iota
	signalDone
	signalFailed
)

// signal carries one watcher event to the tracker loop.
type signal struct {
	session uint64
	kind    signalKind
	event   types.StatusEvent
	failure Failure
}

// session is the single active subscription of a tracker.
type session struct {
	id     uint64
	source string
	last   types.Status // last non-error status delivered through this session
	cancel context.CancelFunc
	exited chan struct{}
	closed bool
}

// openSession starts src in its own goroutine as the active session.
// Must be called from the loop goroutine, or before it starts.
func (t *Tracker) openSession(src Source) {
	t.sessions++
	ctx, cancel := context.WithCancel(t.ctx)
	s := &session{
		id:     t.sessions,
		source: src.Name(),
		cancel: cancel,
		exited: make(chan struct{}),
	}
	t.session = s

	obs := &sessionObserver{id: s.id, ctx: ctx, signals: t.signals}
	go func() {
		defer close(s.exited)
		src.Watch(ctx, t.job, obs)
	}()

	t.logger.Debug("Watching job", "job", t.job, "source", s.source, "session", s.id)
}

// closeSession cancels the active session. With wait set it also blocks until
// the watcher goroutine has returned and released its channel.
func (t *Tracker) closeSession(wait bool) {
	s := t.session
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if wait {
		<-s.exited
	}
}

// sessionObserver forwards a watcher's events to the tracker loop, tagged
// with the session they belong to. Once the session is closed sends are
// dropped instead of blocking the watcher.
type sessionObserver struct {
	id      uint64
	ctx     context.Context
	signals chan<- signal
}

func (o *sessionObserver) OnUpdate(ev types.StatusEvent) {
	o.send(signal{kind: signalUpdate, event: ev})
}

func (o *sessionObserver) OnDone(ev types.StatusEvent) {
	o.send(signal{kind: signalDone, event: ev})
}

func (o *sessionObserver) OnError(f Failure) {
	o.send(signal{kind: signalFailed, failure: f})
}

func (o *sessionObserver) send(sig signal) {
	sig.session = o.id
	select {
	case o.signals <- sig:
	case <-o.ctx.Done():
	}
}
