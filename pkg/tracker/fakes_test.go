package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voiceify/voiceify/pkg/types"
)

var errDropped = errors.New("connection reset by peer")

type frame struct {
	ev  types.StatusEvent
	err error
}

// fakeStream replays frames pushed by the test. Once closed, Next fails.
type fakeStream struct {
	frames    chan frame
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeStream(frames ...frame) *fakeStream {
	s := &fakeStream{
		frames: make(chan frame, 32),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		s.frames <- f
	}
	return s
}

func (s *fakeStream) push(f frame) { s.frames <- f }

func (s *fakeStream) Next() (types.StatusEvent, error) {
	select {
	case <-s.closed:
		return types.StatusEvent{}, io.ErrClosedPipe
	default:
	}
	select {
	case f := <-s.frames:
		return f.ev, f.err
	case <-s.closed:
		return types.StatusEvent{}, io.ErrClosedPipe
	}
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type pollResult struct {
	ev  types.StatusEvent
	err error
}

// fakeGateway serves one scripted stream and a scripted sequence of poll
// results; the last poll result repeats.
type fakeGateway struct {
	stream  *fakeStream
	openErr error

	mu     sync.Mutex
	polls  []pollResult
	polled atomic.Int32

	// when set, every poll blocks until it is closed
	pollGate chan struct{}

	// whether the stream was already closed when polling began
	streamClosedAtFirstPoll atomic.Bool

	artifact    []byte
	artifactErr error
	truncated   bool
	fetched     atomic.Int32
}

func (g *fakeGateway) OpenStatusStream(ctx context.Context, job types.JobHandle) (types.EventStream, error) {
	if g.openErr != nil {
		return nil, g.openErr
	}
	return g.stream, nil
}

func (g *fakeGateway) PollStatus(ctx context.Context, job types.JobHandle) (types.StatusEvent, error) {
	n := int(g.polled.Add(1))
	if n == 1 && g.stream != nil {
		g.streamClosedAtFirstPoll.Store(g.stream.isClosed())
	}
	if g.pollGate != nil {
		<-g.pollGate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.polls) == 0 {
		return types.StatusEvent{Status: types.StatusGenerating, Progress: 60}, nil
	}
	i := n - 1
	if i >= len(g.polls) {
		i = len(g.polls) - 1
	}
	return g.polls[i].ev, g.polls[i].err
}

func (g *fakeGateway) FetchArtifact(ctx context.Context, job types.JobHandle) (*types.Artifact, error) {
	g.fetched.Add(1)
	if g.artifactErr != nil {
		return nil, g.artifactErr
	}
	return &types.Artifact{JobID: job, ContentType: "audio/mpeg", Data: g.artifact}, nil
}

func (g *fakeGateway) FetchMetadata(ctx context.Context, job types.JobHandle) (types.ArtifactMetadata, error) {
	return types.ArtifactMetadata{Truncated: g.truncated}, nil
}

// recorder captures hook invocations in order.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	artifact *types.Artifact
	meta     types.ArtifactMetadata
	onCall   func(call string)
}

func (r *recorder) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	hook := r.onCall
	r.mu.Unlock()
	if hook != nil {
		hook(call)
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnProgress: func(ev types.StatusEvent) {
			r.record(fmt.Sprintf("progress:%d", ev.Progress))
		},
		OnReady: func() {
			r.record("ready")
		},
		OnDone: func(artifact *types.Artifact, meta types.ArtifactMetadata) {
			r.mu.Lock()
			r.artifact = artifact
			r.meta = meta
			r.mu.Unlock()
			r.record("done")
		},
		OnError: func(reason string) {
			r.record("error:" + reason)
		},
	}
}

func ev(status types.Status, progress int) frame {
	return frame{ev: types.StatusEvent{Status: status, Progress: progress}}
}

func drop() frame {
	return frame{err: errDropped}
}

func poll(status types.Status, progress int) pollResult {
	return pollResult{ev: types.StatusEvent{Status: status, Progress: progress}}
}

func newTestTracker(gw Gateway, rec *recorder) *Tracker {
	return New("job-1", gw, rec.hooks(),
		WithPollInterval(5*time.Millisecond),
		WithPollTimeout(time.Second),
		WithFetchTimeout(time.Second),
	)
}

func waitDone(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("tracker did not finish, state=%s", tr.State())
	}
}
