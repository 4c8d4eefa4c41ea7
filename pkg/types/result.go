package types

// Artifact is the finished audio of a job.
type Artifact struct {
	JobID       JobHandle
	ContentType string
	Data        []byte
}

// ArtifactMetadata carries caveats about a result that do not change the
// job's outcome.
type ArtifactMetadata struct {
	Truncated bool
	Size      int
}

// OutcomeKind tags a terminal outcome
type OutcomeKind string

const (
	OutcomeDone   OutcomeKind = "done"
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the single terminal result of a tracked job. Artifact may be nil
// for a done job whose result could not be retrieved.
type Outcome struct {
	Kind     OutcomeKind
	Artifact *Artifact
	Metadata ArtifactMetadata
	Reason   string
}

// EventStream yields status frames for one job until closed by either side.
type EventStream interface {
	// Next blocks until the next frame arrives. Any error means the stream is
	// unusable.
	Next() (StatusEvent, error)

	// Close releases the stream. Safe to call more than once.
	Close() error
}
