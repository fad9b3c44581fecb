package ailink

import (
	"encoding/json"
	"strings"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindInvalidImageFormat          Kind = "INVALID_IMAGE_FORMAT"
	KindSubmissionFailed            Kind = "SUBMISSION_FAILED"
	KindMalformedSubmissionResponse Kind = "MALFORMED_SUBMISSION_RESPONSE"
	KindStatusCheckFailed           Kind = "STATUS_CHECK_FAILED"
	KindRemoteTaskFailed            Kind = "REMOTE_TASK_FAILED"
	KindTaskTimeout                 Kind = "TASK_TIMEOUT"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrInvalidImageFormat          = &Error{Kind: KindInvalidImageFormat}
	ErrSubmissionFailed            = &Error{Kind: KindSubmissionFailed}
	ErrMalformedSubmissionResponse = &Error{Kind: KindMalformedSubmissionResponse}
	ErrStatusCheckFailed           = &Error{Kind: KindStatusCheckFailed}
	ErrRemoteTaskFailed            = &Error{Kind: KindRemoteTaskFailed}
	ErrTaskTimeout                 = &Error{Kind: KindTaskTimeout}
)

// Error is returned by Generator for every failure except cancellation.
//
// Detail carries the remote error body (SubmissionFailed), the remote task
// payload (RemoteTaskFailed) or the exhausted budget (TaskTimeout). Raw keeps
// the last remote payload, if any, for debugging.
type Error struct {
	Kind   Kind
	TaskID string
	Detail string
	Raw    json.RawMessage
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "generation error"
	}
	switch e.Kind {
	case KindInvalidImageFormat:
		return "Invalid image format"
	case KindSubmissionFailed:
		return withDetail("API Error", e.Detail)
	case KindMalformedSubmissionResponse:
		return "No task ID in response"
	case KindStatusCheckFailed:
		return "Failed to check task status"
	case KindRemoteTaskFailed:
		return withDetail("Task processing failed", e.Detail)
	case KindTaskTimeout:
		if d := strings.TrimSpace(e.Detail); d != "" {
			return "Task timed out after " + d
		}
		return "Task timed out"
	default:
		return withDetail("generation error", e.Detail)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Code returns the Kind as an error code string.
func (e *Error) Code() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

func withDetail(prefix, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return prefix
	}
	return prefix + ": " + detail
}
