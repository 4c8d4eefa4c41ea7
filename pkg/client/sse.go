package client

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	sse "github.com/tmaxmax/go-sse"

	"github.com/voiceify/voiceify/pkg/types"
)

// maxFrameSize bounds a single SSE event.
const maxFrameSize = 1 << 20

type frame struct {
	event sse.Event
	err   error
}

// eventStream decodes status frames from a text/event-stream body. Frames
// named anything other than "status" or "message" are skipped, as are
// comments. It never reconnects.
type eventStream struct {
	body   io.ReadCloser
	frames chan frame
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newEventStream(body io.ReadCloser) *eventStream {
	s := &eventStream{
		body:   body,
		frames: make(chan frame),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *eventStream) read() {
	defer close(s.frames)

	for ev, err := range sse.Read(s.body, &sse.ReadConfig{MaxEventSize: maxFrameSize}) {
		select {
		case s.frames <- frame{event: ev, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Next implements types.EventStream. A body that ends without a further
// status frame yields io.ErrUnexpectedEOF.
func (s *eventStream) Next() (types.StatusEvent, error) {
	for f := range s.frames {
		if f.err != nil {
			return types.StatusEvent{}, f.err
		}
		if t := f.event.Type; t != "" && t != "status" && t != "message" {
			continue
		}
		if f.event.Data == "" {
			continue
		}

		var ev types.StatusEvent
		if err := json.Unmarshal([]byte(f.event.Data), &ev); err != nil {
			return types.StatusEvent{}, fmt.Errorf("malformed status frame: %w", err)
		}
		return ev, nil
	}
	return types.StatusEvent{}, io.ErrUnexpectedEOF
}

// Close implements types.EventStream.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
