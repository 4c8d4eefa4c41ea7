package types

import "fmt"

// SubmissionError means the job never started.
type SubmissionError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Err != nil:
		return fmt.Sprintf("submission failed: %v", e.Err)
	default:
		return fmt.Sprintf("submission failed with status %d", e.StatusCode)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StreamTransportError is a connection-level failure of the status stream.
type StreamTransportError struct {
	Err error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("status stream: %v", e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// ExplicitJobError is reported by the server when the job itself failed.
type ExplicitJobError struct {
	Reason string
}

func (e *ExplicitJobError) Error() string { return e.Reason }

// TransientFetchError is a failed status poll. Polling continues.
type TransientFetchError struct {
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status poll: %v", e.Err)
	}
	return fmt.Sprintf("status poll returned %d", e.StatusCode)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ArtifactFetchError is a failed result retrieval after the job succeeded.
type ArtifactFetchError struct {
	StatusCode int
	Err        error
}

func (e *ArtifactFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artifact fetch: %v", e.Err)
	}
	return fmt.Sprintf("artifact fetch returned %d", e.StatusCode)
}

func (e *ArtifactFetchError) Unwrap() error { return e.Err }
