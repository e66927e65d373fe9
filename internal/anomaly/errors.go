package anomaly

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModelLoaded means no model has ever been published; the service
	// must refuse analyze traffic rather than return an unscored verdict.
	ErrNoModelLoaded = errors.New("no anomaly model loaded")

	// ErrNoPreviousModel means rollback was requested with nothing to
	// roll back to.
	ErrNoPreviousModel = errors.New("no previous model available for rollback")
)

// ModelLoadError reports a malformed or schema-mismatched model. Fatal for
// the load path; the caller must not fall back to a default verdict.
type ModelLoadError struct {
	Reason string
	Err    error
}

func (e *ModelLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model load failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("model load failed: %s", e.Reason)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InsufficientDataError rejects a training request with too few samples.
// The previously published model stays untouched.
type InsufficientDataError struct {
	Samples int
	Min     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: got %d samples, need at least %d", e.Samples, e.Min)
}
