package domain

import (
	"errors"
	"sort"

	"go.trai.ch/zerr"
)

// Mode selects the direction of a sync run.
type Mode uint8

const (
	// ModeMirror fetches from origin and uploads to storage.
	ModeMirror Mode = iota + 1
	// ModeRestore downloads from storage into CARGO_HOME.
	ModeRestore
)

// String returns the command name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeMirror:
		return "mirror"
	case ModeRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// WorkItem is one unique identity scheduled for processing.
// The planner creates exactly one per identity and the scheduler consumes it once.
type WorkItem struct {
	Identity PackageIdentity
	Key      string
	// Entries lists the lock entries ("name version") that resolved to this identity.
	Entries []string
}

// RemoteManifest is the set of keys present in storage when the run was planned.
type RemoteManifest map[string]struct{}

// Has reports whether key was present at planning time.
func (m RemoteManifest) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Status is the terminal state of a work item.
type Status uint8

const (
	// StatusSucceeded means the item was transferred.
	StatusSucceeded Status = iota + 1
	// StatusSkipped means the item was already present.
	StatusSkipped
	// StatusRetryableFailure means the item failed with a transport error after all attempts.
	StatusRetryableFailure
	// StatusFatalFailure means the item failed with a non-retryable error.
	StatusFatalFailure
)

// String returns a human-readable status.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusRetryableFailure:
		return "retryable-failure"
	case StatusFatalFailure:
		return "fatal-failure"
	default:
		return "unknown"
	}
}

// Failed reports whether the status counts against the run.
func (s Status) Failed() bool {
	return s == StatusRetryableFailure || s == StatusFatalFailure
}

// Outcome is the result of processing one work item.
type Outcome struct {
	Key      string
	Identity PackageIdentity
	Status   Status
	Bytes    int64
	Attempts int
	Err      error
}

// NewFailure classifies err into a failed outcome.
func NewFailure(item WorkItem, attempts int, err error) Outcome {
	status := StatusFatalFailure
	if IsRetryable(err) {
		status = StatusRetryableFailure
	}
	return Outcome{
		Key:      item.Key,
		Identity: item.Identity,
		Status:   status,
		Attempts: attempts,
		Err:      err,
	}
}

// Summary aggregates outcomes of a run.
type Summary struct {
	Good       int
	Bad        int
	Skipped    int
	TotalBytes int64
	Outcomes   []Outcome
}

// Record adds an outcome to the summary.
func (s *Summary) Record(o Outcome) {
	switch {
	case o.Status.Failed():
		s.Bad++
	case o.Status == StatusSkipped:
		s.Skipped++
	default:
		s.Good++
	}
	s.TotalBytes += o.Bytes
	s.Outcomes = append(s.Outcomes, o)
}

// Sorted returns the outcomes ordered by key.
func (s *Summary) Sorted() []Outcome {
	out := make([]Outcome, len(s.Outcomes))
	copy(out, s.Outcomes)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Err returns nil when every item succeeded or was skipped, otherwise an ErrSyncFailed
// joined with each item error annotated with its key.
func (s *Summary) Err() error {
	if s.Bad == 0 {
		return nil
	}
	errs := []error{ErrSyncFailed}
	for _, o := range s.Sorted() {
		if o.Status.Failed() {
			errs = append(errs, zerr.With(zerr.Wrap(o.Err, "item failed"), "key", o.Key))
		}
	}
	return errors.Join(errs...)
}
