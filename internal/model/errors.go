package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies pipeline failures by how the engine must react.
type FailureKind int

const (
	// AcquisitionFailure: no frame was available for a sample. Skipped
	// without advancing debounce.
	AcquisitionFailure FailureKind = iota + 1
	// DetectionFailure: the detector errored on a sampled frame. Skipped and
	// logged without advancing debounce.
	DetectionFailure
	// PersistenceFailure: a ledger write failed after bounded retries. The
	// in-memory state is left unchanged so the transition is retried.
	PersistenceFailure
	// ConfigurationError: malformed zone definitions or settings. Fatal at
	// startup.
	ConfigurationError
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case AcquisitionFailure:
		return "acquisition"
	case DetectionFailure:
		return "detection"
	case PersistenceFailure:
		return "persistence"
	case ConfigurationError:
		return "configuration"
	default:
		return "unknown"
	}
}

// Failure wraps an error with its kind and the operation that produced it.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

// NewFailure wraps err as a failure of the given kind. A nil err yields nil.
func NewFailure(kind FailureKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Op: op, Err: err}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure in %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the failure kind carried by err, or 0 when err is not a
// classified failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// IsKind reports whether err is a failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	return KindOf(err) == kind
}

// Ledger sentinels.
var (
	ErrNotFound     = errors.New("not found")
	ErrIntervalOpen = errors.New("space already has an open occupancy interval")
)
