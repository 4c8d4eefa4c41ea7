package convert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceify/voiceify/internal/config"
	"github.com/voiceify/voiceify/internal/jobs"
	"github.com/voiceify/voiceify/internal/metrics"
	"github.com/voiceify/voiceify/pkg/types"
)

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Extract(ctx context.Context, _ []byte) (string, error) {
	return f.text, f.err
}

type fakeSynth struct {
	mu     sync.Mutex
	calls  []string
	failAt int // 1-based chunk that fails; 0 never
	block  chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	n := len(f.calls)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n == f.failAt {
		return nil, errors.New("tts unavailable")
	}
	return []byte("[" + voice + ":" + text + "]"), nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []types.JobUpdate
}

func (p *recordingPublisher) Publish(_ context.Context, u types.JobUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []types.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Status
	for _, u := range p.updates {
		out = append(out, u.Status)
	}
	return out
}

// collect records every distinct state the job passes through.
func collect(store jobs.JobStore, jobID string) (func() []types.StatusEvent, func()) {
	ch := store.Subscribe(jobID)
	var (
		mu     sync.Mutex
		events []types.StatusEvent
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		for u := range ch {
			mu.Lock()
			ev := types.StatusEvent{Status: u.Status, Message: u.Message}
			if u.Progress != nil {
				ev.Progress = *u.Progress
			}
			if n := len(events); n == 0 || events[n-1] != ev {
				events = append(events, ev)
			}
			mu.Unlock()
		}
	}()
	get := func() []types.StatusEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]types.StatusEvent(nil), events...)
	}
	stop := func() {
		store.Unsubscribe(jobID, ch)
		<-done
	}
	return get, stop
}

func newTestExecutor(t *testing.T, ex TextExtractor, s *fakeSynth, opts Options) (*Executor, *jobs.Store, *recordingPublisher) {
	t.Helper()
	store := jobs.NewStore()
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewExecutor(ctx, store, ex, s, pub, metrics.NewMetrics("test"), opts), store, pub
}

func TestExecutor_ProcessDocument(t *testing.T) {
	s := &fakeSynth{}
	exec, store, pub := newTestExecutor(t,
		fakeExtractor{text: "0123456789\nabcdefghij\n\nABCDEFGHIJ"},
		s, Options{ChunkMaxChars: 11, MaxConcurrentJobs: 2})

	require.NoError(t, store.Create(&types.Job{
		ID: "job-1", Status: types.StatusQueued, Source: types.SourceDocument,
		Voice: "en-US-AriaNeural", Message: MsgReadingDocument,
	}))
	events, stop := collect(store, "job-1")

	exec.ProcessDocument("job-1", []byte("%PDF"))
	exec.Wait()
	stop()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, MsgComplete, job.Message)
	assert.False(t, job.Truncated)

	assert.Equal(t, []string{"0123456789 ", "abcdefghij ", "ABCDEFGHIJ"}, s.calls)

	audio, err := store.Audio("job-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "[en-US-AriaNeural:0123456789 ][en-US-AriaNeural:abcdefghij ][en-US-AriaNeural:ABCDEFGHIJ]", string(audio))

	assert.Equal(t, []types.StatusEvent{
		{Status: types.StatusReady, Progress: 50, Message: "Ready to generate audio"},
		{Status: types.StatusGenerating, Progress: 50, Message: "Synthesizing audio (50%)..."},
		{Status: types.StatusGenerating, Progress: 66, Message: "Synthesizing audio (66%)..."},
		{Status: types.StatusGenerating, Progress: 83, Message: "Synthesizing audio (83%)..."},
		{Status: types.StatusGenerating, Progress: 100, Message: "Synthesizing audio (100%)..."},
		{Status: types.StatusDone, Progress: 100, Message: "Complete"},
	}, events())

	assert.Equal(t, []types.Status{types.StatusReady, types.StatusGenerating, types.StatusDone}, pub.statuses())
}

func TestExecutor_DocumentWithoutText(t *testing.T) {
	s := &fakeSynth{}
	exec, store, pub := newTestExecutor(t, fakeExtractor{text: "  \n\t "}, s, Options{})

	require.NoError(t, store.Create(&types.Job{ID: "job-1", Status: types.StatusQueued}))
	exec.ProcessDocument("job-1", []byte("%PDF"))
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, job.Status)
	assert.Equal(t, MsgNoReadableText, job.Error)
	assert.Empty(t, s.calls)
	assert.Equal(t, []types.Status{types.StatusError}, pub.statuses())
}

func TestExecutor_ExtractionFails(t *testing.T) {
	exec, store, _ := newTestExecutor(t, fakeExtractor{err: errors.New("xref table broken")}, &fakeSynth{}, Options{})

	require.NoError(t, store.Create(&types.Job{ID: "job-1", Status: types.StatusQueued}))
	exec.ProcessDocument("job-1", nil)
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, job.Status)
	assert.Contains(t, job.Error, "xref table broken")
}

func TestExecutor_Truncation(t *testing.T) {
	s := &fakeSynth{}
	exec, store, _ := newTestExecutor(t, fakeExtractor{text: strings.Repeat("a", 50)}, s, Options{ChunkMaxChars: 10, MaxChunks: 3})

	require.NoError(t, store.Create(&types.Job{ID: "job-1", Status: types.StatusQueued}))
	exec.ProcessDocument("job-1", nil)
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, job.Status)
	assert.True(t, job.Truncated)
	assert.Len(t, s.calls, 3)
}

func TestExecutor_ProcessText(t *testing.T) {
	s := &fakeSynth{}
	exec, store, _ := newTestExecutor(t, nil, s, Options{})

	chunks, truncated, err := exec.PrepareText("Hyphen-\nated\n\tworld.")
	require.NoError(t, err)
	assert.False(t, truncated)

	require.NoError(t, store.Create(&types.Job{
		ID: "job-1", Status: types.StatusReady, Source: types.SourceText,
		Voice: "v", Progress: 50, Message: MsgReady, Chunks: chunks,
	}))
	exec.ProcessText("job-1")
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, job.Status)
	assert.Equal(t, []string{"Hyphenated world."}, s.calls)
}

func TestExecutor_PrepareText(t *testing.T) {
	exec, _, _ := newTestExecutor(t, nil, &fakeSynth{}, Options{})

	_, _, err := exec.PrepareText("")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, _, err = exec.PrepareText(" \n ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, "Text cannot be empty.", ErrEmptyText.Error())
	assert.Equal(t, "No text content after cleaning.", ErrNothingToSpeak.Error())
}

func TestExecutor_SynthesisFails(t *testing.T) {
	s := &fakeSynth{failAt: 2}
	exec, store, pub := newTestExecutor(t, fakeExtractor{text: strings.Repeat("b", 30)}, s, Options{ChunkMaxChars: 10})

	require.NoError(t, store.Create(&types.Job{ID: "job-1", Status: types.StatusQueued}))
	exec.ProcessDocument("job-1", nil)
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, job.Status)
	assert.Contains(t, job.Error, "chunk 2 of 3")
	assert.Contains(t, job.Error, "tts unavailable")

	// audio of the first chunk was kept
	audio, err := store.Audio("job-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "[:bbbbbbbbbb]", string(audio))
	assert.Equal(t, []types.Status{types.StatusReady, types.StatusGenerating, types.StatusError}, pub.statuses())
}

func TestExecutor_ConcurrencyLimit(t *testing.T) {
	s := &fakeSynth{block: make(chan struct{})}
	exec, store, _ := newTestExecutor(t, nil, s, Options{MaxConcurrentJobs: 1})

	for _, id := range []string{"job-1", "job-2"} {
		require.NoError(t, store.Create(&types.Job{ID: id, Status: types.StatusReady, Chunks: []string{id}}))
		exec.ProcessText(id)
	}

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.calls) == 1
	}, time.Second, time.Millisecond)
	assert.Never(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.calls) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(s.block)
	exec.Wait()

	for _, id := range []string{"job-1", "job-2"} {
		job, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, job.Status, id)
	}
}

func TestExecutor_Shutdown(t *testing.T) {
	store := jobs.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSynth{block: make(chan struct{})}
	exec := NewExecutor(ctx, store, nil, s, nil, nil, Options{})

	require.NoError(t, store.Create(&types.Job{ID: "job-1", Status: types.StatusReady, Chunks: []string{"a"}}))
	exec.ProcessText("job-1")

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.calls) == 1
	}, time.Second, time.Millisecond)
	cancel()
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, job.Status)
	assert.Contains(t, job.Error, "context canceled")
}

func TestExecutor_JobFinishedElsewhere(t *testing.T) {
	s := &fakeSynth{block: make(chan struct{})}
	exec, store, pub := newTestExecutor(t, nil, s, Options{})

	require.NoError(t, store.Create(&types.Job{ID: "job-1", Status: types.StatusReady, Chunks: []string{"a", "b"}}))
	exec.ProcessText("job-1")

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.calls) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, store.Update(types.JobUpdate{JobID: "job-1", Status: types.StatusError, Error: "job timed out"}))
	close(s.block)
	exec.Wait()

	job, err := store.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job timed out", job.Error)
	assert.Equal(t, []types.Status{types.StatusGenerating}, pub.statuses())
	assert.Len(t, s.calls, 1)
}

func TestExecutor_SubmitText(t *testing.T) {
	s := &fakeSynth{}
	exec, store, _ := newTestExecutor(t, nil, s, Options{
		Voices: config.VoiceCatalog{
			Default: "en-GB-SoniaNeural",
			Voices:  []config.Voice{{Name: "en-GB-SoniaNeural"}, {Name: "de-DE-KatjaNeural"}},
		},
	})

	id, err := exec.SubmitText("Guten Tag.", "de-DE-KatjaNeural")
	require.NoError(t, err)
	exec.Wait()

	job, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.SourceText, job.Source)
	assert.Equal(t, "de-DE-KatjaNeural", job.Voice)
	assert.Equal(t, types.StatusDone, job.Status)

	id, err = exec.SubmitText("Hello.", "")
	require.NoError(t, err)
	exec.Wait()
	job, err = store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "en-GB-SoniaNeural", job.Voice)

	_, err = exec.SubmitText("Hello.", "xx-XX-Nobody")
	assert.ErrorIs(t, err, ErrUnknownVoice)

	_, err = exec.SubmitText("   ", "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestExecutor_SubmitDocument(t *testing.T) {
	exec, store, _ := newTestExecutor(t, fakeExtractor{text: "Some text."}, &fakeSynth{}, Options{JobTimeout: time.Minute})

	id, err := exec.SubmitDocument([]byte("%PDF"), "")
	require.NoError(t, err)
	exec.Wait()

	job, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.SourceDocument, job.Source)
	assert.Equal(t, config.DefaultVoice, job.Voice)
	assert.Equal(t, 60, job.TimeoutSec)
	assert.Equal(t, types.StatusDone, job.Status)
}
