package errors

import (
	"context"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/server/middleware"
)

func NewValidationError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeValidationFailed, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewUnauthorizedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnauthorized, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

// NewRateLimitedError carries the retry hint in the envelope details; the
// responder also turns it into a Retry-After header.
func NewRateLimitedError(message string, retryAfterSeconds int) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeRateLimited, message).WithDetails(map[string]interface{}{
		"retry_after_seconds": retryAfterSeconds,
	})
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	return severe(errors.NewErrorEnvelope(CodeInternal, message))
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return severe(errors.NewErrorEnvelope(CodeConfigInvalid, message))
}

// NewGenerationError builds the envelope for a failed image-to-video run.
// message is surfaced to the caller verbatim.
func NewGenerationError(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	return severe(wrap(ctx, code, err, message))
}

func WrapValidationError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeValidationFailed, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return severe(wrap(ctx, CodeInternal, err, message))
}

func WrapUnavailable(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return degraded(wrap(ctx, CodeUnavailable, err, message))
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return severe(wrap(ctx, CodeConfigInvalid, err, message))
}

// wrap attaches the request and trace IDs from ctx and records err in the
// envelope context, which is logged but never sent to callers.
func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	correlationID := correlationIDFrom(ctx)
	traceID := observability.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = correlationID
	}

	envelope := errors.NewErrorEnvelope(code, message).
		WithCorrelationID(correlationID).
		WithTraceID(traceID)
	return withCause(envelope, err)
}

func withCause(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if err == nil {
		return envelope
	}
	if updated, ctxErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); ctxErr == nil {
		return updated
	}
	return envelope
}

func severe(envelope *errors.ErrorEnvelope) *errors.ErrorEnvelope {
	if updated, err := envelope.WithSeverity(errors.SeverityHigh); err == nil {
		return updated
	}
	return envelope
}

func degraded(envelope *errors.ErrorEnvelope) *errors.ErrorEnvelope {
	if updated, err := envelope.WithSeverity(errors.SeverityMedium); err == nil {
		return updated
	}
	return envelope
}

func critical(envelope *errors.ErrorEnvelope) *errors.ErrorEnvelope {
	if updated, err := envelope.WithSeverity(errors.SeverityCritical); err == nil {
		return updated
	}
	return envelope
}

func correlationIDFrom(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope. Plain
// errors become INTERNAL_ERROR with the original text kept for the logs.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		return critical(errors.NewErrorEnvelope(CodeInternal, "unexpected nil error"))
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}
	return severe(withCause(errors.NewErrorEnvelope(CodeInternal, "unexpected error"), err))
}

// EnsureCorrelationID fills in a missing correlation ID from ctx.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil || envelope.CorrelationID != "" {
		return envelope
	}

	var id string
	if ctx != nil {
		id = middleware.GetRequestID(ctx)
	}
	if id == "" {
		id = "fallback-" + errors.GenerateCorrelationID()
	}
	return envelope.WithCorrelationID(id)
}
