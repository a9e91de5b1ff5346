package generation

import (
	"context"
	"errors"
	"strings"
)

// Kind classifies a failure of an orchestration call.
type Kind string

const (
	KindValidation Kind = "validation"
	KindSubmission Kind = "submission"
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindDownload   Kind = "download"
	KindCanceled   Kind = "canceled"
)

// Sentinel errors matched by errors.Is against any *Error of the same kind.
var (
	// ErrValidation is returned when a request is malformed. No I/O was attempted.
	ErrValidation = errors.New("validation error")
	// ErrSubmission is returned when the service rejected the job.
	ErrSubmission = errors.New("submission error")
	// ErrNetwork is returned on transport-level failures.
	ErrNetwork = errors.New("network error")
	// ErrTimeout is returned when polling exceeded its wall-clock budget.
	ErrTimeout = errors.New("timeout error")
	// ErrDownload is returned when the artifact transfer failed or was truncated.
	ErrDownload = errors.New("download error")
	// ErrCanceled is returned when the caller canceled the call.
	ErrCanceled = errors.New("canceled")
)

var kindSentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindSubmission: ErrSubmission,
	KindNetwork:    ErrNetwork,
	KindTimeout:    ErrTimeout,
	KindDownload:   ErrDownload,
	KindCanceled:   ErrCanceled,
}

// Error is the typed failure every stage reports.
// Stage is empty when raised by a component and set by the orchestrator.
type Error struct {
	Stage   Stage
	Kind    Kind
	Message string
	Err     error
}

// NewError builds an untagged error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(e.Stage.label())
		b.WriteString(": ")
	}
	if s, ok := kindSentinels[e.Kind]; ok {
		b.WriteString(s.Error())
	} else {
		b.WriteString("error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// WithStage tags err with the stage that produced it. The kind and cause are
// kept as-is; errors that are not *Error are classified as canceled when the
// context was canceled and as network failures otherwise.
func WithStage(err error, stage Stage) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		tagged := *ge
		tagged.Stage = stage
		return &tagged
	}
	kind := KindNetwork
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCanceled
	}
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// IsTransient reports whether err is marked as a brief service hiccup.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
