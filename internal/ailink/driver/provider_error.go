package driver

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a 2xx response whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed provider response")

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body and must never include API keys.
type ProviderError struct {
	Provider    string
	Operation   string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	op := e.Provider
	if e.Operation != "" {
		op += " " + e.Operation
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", op, e.Message)
}

// Body returns the remote error body, falling back to the message.
func (e *ProviderError) Body() string {
	if e == nil {
		return ""
	}
	if len(e.RawResponse) > 0 {
		return string(e.RawResponse)
	}
	return e.Message
}

// AsProviderError unwraps err into a *ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr, true
	}
	return nil, false
}
