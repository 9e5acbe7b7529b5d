package redline

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"not found", fmt.Errorf("job x: %w", ErrNotFound), KindNotFound},
		{"invalid input", fmt.Errorf("Submit: %w", ErrInvalidInput), KindInvalidInput},
		{"validation", &ValidationError{ParagraphIDs: []int{1}}, KindValidationFailed},
		{"out of range", fmt.Errorf("ApplyAt: %w", ErrOutOfRange), KindApplicationFailed},
		{"snapshot mismatch", ErrSnapshotMismatch, KindApplicationFailed},
		{"application", &ApplicationError{Failures: []ApplyFailure{{ParagraphID: 2}}}, KindApplicationFailed},
		{"upstream", Upstream("edit oracle", errors.New("boom")), KindUpstreamFailure},
		{"corrupt", ErrCorrupt, KindUpstreamFailure},
		{"deadline", fmt.Errorf("propose: %w", context.DeadlineExceeded), KindUpstreamFailure},
		{"not ready", ErrNotReady, KindNotReady},
		{"transition", ErrInvalidTransition, KindConflict},
		{"other", errors.New("mystery"), KindUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify=%q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestUpstreamKeepsMessageAndCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("document x: %w", ErrNotFound)
	err := Upstream("fetch document", cause)
	if err.Error() != "fetch document: document x: not found" {
		t.Fatalf("Error()=%q", err.Error())
	}
	if !errors.Is(err, ErrUpstreamFailure) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is lost a sentinel: %v", err)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Op != "fetch document" {
		t.Fatalf("errors.As: %+v", ue)
	}
	if Upstream("x", nil) != nil {
		t.Fatalf("Upstream(nil) != nil")
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	v := &ValidationError{ParagraphIDs: []int{3, 9}}
	if v.Error() != "generated patches failed validation (paragraphs 3, 9)" {
		t.Fatalf("ValidationError=%q", v.Error())
	}
	a := &ApplicationError{Applied: 1, Failures: []ApplyFailure{{ParagraphID: 4, Reason: "stale"}}}
	if a.Error() != "applied 1/2 patches" {
		t.Fatalf("ApplicationError=%q", a.Error())
	}
}
