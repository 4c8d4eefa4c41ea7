package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceify/voiceify/pkg/types"
)

type observed struct {
	mu       sync.Mutex
	updates  []types.StatusEvent
	done     []types.StatusEvent
	failures []Failure
}

func (o *observed) OnUpdate(ev types.StatusEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, ev)
}

func (o *observed) OnDone(ev types.StatusEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, ev)
}

func (o *observed) OnError(f Failure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, f)
}

func TestStreamWatcher_ForwardsUntilDone(t *testing.T) {
	stream := newFakeStream(
		ev(types.StatusQueued, 0),
		ev(types.StatusGenerating, 50),
		ev(types.StatusDone, 100),
		ev(types.StatusGenerating, 10),
	)
	obs := &observed{}

	NewStreamWatcher(&fakeGateway{stream: stream}, nil).Watch(context.Background(), "job-1", obs)

	require.Len(t, obs.updates, 3)
	assert.Equal(t, types.StatusDone, obs.updates[2].Status)
	assert.Empty(t, obs.failures)
	assert.True(t, stream.isClosed())
}

func TestStreamWatcher_DropCarriesLastStatus(t *testing.T) {
	stream := newFakeStream(ev(types.StatusReady, 50), drop())
	obs := &observed{}

	NewStreamWatcher(&fakeGateway{stream: stream}, nil).Watch(context.Background(), "job-1", obs)

	require.Len(t, obs.failures, 1)
	f := obs.failures[0]
	assert.Equal(t, FailureTransport, f.Kind)
	assert.Equal(t, types.StatusReady, f.LastStatus)
	assert.Equal(t, ConnectionLost, f.Reason)

	var transportErr *types.StreamTransportError
	require.ErrorAs(t, f.Err, &transportErr)
	assert.ErrorIs(t, f.Err, errDropped)
}

func TestStreamWatcher_ErrorFrame(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		wantReason string
	}{
		{name: "with message", message: "bad file", wantReason: "bad file"},
		{name: "without message", message: "", wantReason: "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := newFakeStream(frame{ev: types.StatusEvent{Status: types.StatusError, Message: tt.message}})
			obs := &observed{}

			NewStreamWatcher(&fakeGateway{stream: stream}, nil).Watch(context.Background(), "job-1", obs)

			require.Len(t, obs.failures, 1)
			assert.Equal(t, FailureExplicit, obs.failures[0].Kind)
			assert.Equal(t, tt.wantReason, obs.failures[0].Reason)
			assert.Empty(t, obs.updates)
		})
	}
}

func TestStreamWatcher_OpenFailure(t *testing.T) {
	obs := &observed{}
	gw := &fakeGateway{openErr: errors.New("404 Not Found")}

	NewStreamWatcher(gw, nil).Watch(context.Background(), "job-1", obs)

	require.Len(t, obs.failures, 1)
	assert.Equal(t, FailureTransport, obs.failures[0].Kind)
	assert.Equal(t, types.Status(""), obs.failures[0].LastStatus)
}

func TestStreamWatcher_CancelIsSilent(t *testing.T) {
	stream := newFakeStream(ev(types.StatusGenerating, 20))
	obs := &observed{}
	ctx, cancel := context.WithCancel(context.Background())

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		NewStreamWatcher(&fakeGateway{stream: stream}, nil).Watch(ctx, "job-1", obs)
	}()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.updates) == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after cancel")
	}
	assert.Empty(t, obs.failures)
	assert.True(t, stream.isClosed())
}

func TestPollingWatcher_StopsOnDone(t *testing.T) {
	gw := &fakeGateway{polls: []pollResult{
		poll(types.StatusGenerating, 60),
		poll(types.StatusReady, 80),
		poll(types.StatusDone, 100),
	}}
	obs := &observed{}

	NewPollingWatcher(gw, time.Millisecond, time.Second, nil).Watch(context.Background(), "job-1", obs)

	assert.EqualValues(t, 3, gw.polled.Load())
	require.Len(t, obs.updates, 3)
	require.Len(t, obs.done, 1)
	assert.Equal(t, 100, obs.done[0].Progress)
	assert.Empty(t, obs.failures)
}

func TestPollingWatcher_ErrorStatusIsExplicit(t *testing.T) {
	gw := &fakeGateway{polls: []pollResult{
		poll(types.StatusGenerating, 60),
		{ev: types.StatusEvent{Status: types.StatusError}},
	}}
	obs := &observed{}

	NewPollingWatcher(gw, time.Millisecond, time.Second, nil).Watch(context.Background(), "job-1", obs)

	require.Len(t, obs.failures, 1)
	assert.Equal(t, FailureExplicit, obs.failures[0].Kind)
	assert.Equal(t, "Unknown error", obs.failures[0].Reason)
	assert.Equal(t, types.StatusGenerating, obs.failures[0].LastStatus)
	assert.Empty(t, obs.done)
}

func TestPollingWatcher_RetriesFailedRequests(t *testing.T) {
	gw := &fakeGateway{polls: []pollResult{
		{err: &types.TransientFetchError{StatusCode: 502}},
		{err: errors.New("context deadline exceeded")},
		poll(types.StatusDone, 100),
	}}
	obs := &observed{}

	NewPollingWatcher(gw, time.Millisecond, time.Second, nil).Watch(context.Background(), "job-1", obs)

	assert.EqualValues(t, 3, gw.polled.Load())
	assert.Len(t, obs.done, 1)
	assert.Empty(t, obs.failures)
}

func TestPollingWatcher_DiscardsResultAfterCancel(t *testing.T) {
	gate := make(chan struct{})
	gw := &fakeGateway{
		polls:    []pollResult{poll(types.StatusDone, 100)},
		pollGate: gate,
	}
	obs := &observed{}
	ctx, cancel := context.WithCancel(context.Background())

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		NewPollingWatcher(gw, time.Millisecond, time.Second, nil).Watch(ctx, "job-1", obs)
	}()

	require.Eventually(t, func() bool { return gw.polled.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	close(gate)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after cancel")
	}
	assert.Empty(t, obs.updates)
	assert.Empty(t, obs.done)
	assert.EqualValues(t, 1, gw.polled.Load())
}

func TestNewPollingWatcher_Defaults(t *testing.T) {
	w := NewPollingWatcher(&fakeGateway{}, 0, 0, nil)
	assert.Equal(t, DefaultPollInterval, w.interval)
	assert.Equal(t, DefaultPollTimeout, w.timeout)
	assert.Equal(t, "poll", w.Name())
}

func TestResultFetcher_Fetch(t *testing.T) {
	gw := &fakeGateway{artifact: []byte("0123456789"), truncated: true}

	artifact, meta := NewResultFetcher(gw, 0, nil).Fetch(context.Background(), "job-9")

	require.NotNil(t, artifact)
	assert.Equal(t, types.JobHandle("job-9"), artifact.JobID)
	assert.Equal(t, types.ArtifactMetadata{Truncated: true, Size: 10}, meta)
}
