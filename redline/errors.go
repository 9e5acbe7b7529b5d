package redline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound: a job or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: malformed instruction, reference or paragraph id.
	ErrInvalidInput = errors.New("invalid input")
	// ErrValidationFailed: a built patch does not reconstruct its texts.
	ErrValidationFailed = errors.New("validation failed")
	// ErrApplicationFailed: a patch could not be materialized into a paragraph.
	ErrApplicationFailed = errors.New("application failed")
	// ErrUpstreamFailure: document access, edit oracle or persistence failed.
	ErrUpstreamFailure = errors.New("upstream failure")

	ErrOutOfRange        = fmt.Errorf("paragraph out of range: %w", ErrApplicationFailed)
	ErrSnapshotMismatch  = fmt.Errorf("snapshot version mismatch: %w", ErrApplicationFailed)
	ErrCorrupt           = fmt.Errorf("document corrupt: %w", ErrUpstreamFailure)
	ErrNotReady          = errors.New("patch set not ready")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind is the coarse failure category of an error chain.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindNotFound          ErrorKind = "not_found"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindValidationFailed  ErrorKind = "validation_failed"
	KindApplicationFailed ErrorKind = "application_failed"
	KindUpstreamFailure   ErrorKind = "upstream_failure"
	KindNotReady          ErrorKind = "not_ready"
	KindConflict          ErrorKind = "conflict"
	KindUnknown           ErrorKind = "unknown"
)

// Classify maps err onto the error taxonomy. Context deadlines and
// cancellations count as upstream failures: the only blocking calls are to
// external collaborators.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrApplicationFailed):
		return KindApplicationFailed
	case errors.Is(err, ErrUpstreamFailure),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindUpstreamFailure
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrInvalidTransition):
		return KindConflict
	}
	return KindUnknown
}

// UpstreamError wraps a failed collaborator call. Error() keeps the cause's
// message verbatim after the operation name.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return e.Op + ": upstream failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstreamFailure, e.Err} }

// Upstream wraps err as an UpstreamError for op. Errors that already carry
// NotFound or Corrupt semantics keep them reachable through errors.Is.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}

// ValidationError lists the paragraphs whose patches failed to round-trip.
type ValidationError struct {
	ParagraphIDs []int
}

func (e *ValidationError) Error() string {
	ids := make([]string, len(e.ParagraphIDs))
	for i, id := range e.ParagraphIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("generated patches failed validation (paragraphs %s)", strings.Join(ids, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ApplyFailure records why one patch could not be applied.
type ApplyFailure struct {
	ParagraphID int    `json:"paragraph_id"`
	Reason      string `json:"reason"`
}

// ApplicationError is returned when no patch of a batch could be applied.
type ApplicationError struct {
	Applied  int
	Failures []ApplyFailure
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("applied %d/%d patches", e.Applied, e.Applied+len(e.Failures))
}

func (e *ApplicationError) Unwrap() error { return ErrApplicationFailed }
