package ailink

import (
	"context"
	"errors"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

// maxDetailBytes bounds the remote error text echoed back to callers.
const maxDetailBytes = 2048

// mapProviderError converts a driver failure into a generation error of the
// given kind, keeping the remote body as detail.
func mapProviderError(kind Kind, taskID string, err error) *Error {
	if err == nil {
		return nil
	}
	mapped := &Error{Kind: kind, TaskID: taskID, Err: err}

	if perr, ok := driver.AsProviderError(err); ok {
		mapped.Detail = truncateDetail(perr.Message, maxDetailBytes)
		mapped.Raw = captureRaw(perr.RawResponse)
		return mapped
	}
	if errors.Is(err, context.DeadlineExceeded) {
		mapped.Detail = "provider request timed out"
		return mapped
	}

	mapped.Detail = truncateDetail(err.Error(), maxDetailBytes)
	return mapped
}

// providerReason buckets a driver failure for metrics labels.
func providerReason(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, driver.ErrMalformedResponse) {
		return "malformed"
	}

	perr, ok := driver.AsProviderError(err)
	if !ok {
		return "transport"
	}
	status := perr.StatusCode
	switch {
	case status == 401 || status == 403:
		return "auth"
	case status == 429:
		return "rate_limited"
	case status >= 500 && status <= 599:
		return "unavailable"
	case status >= 400 && status <= 499:
		return "bad_request"
	default:
		return "error"
	}
}
