package handlers

import (
	"net/http"
	"sync/atomic"

	apperrors "github.com/gifmotion/gifmotion/internal/errors"
)

// ErrorResponder writes err as an error envelope.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var errorResponder atomic.Pointer[ErrorResponder]

// SetHTTPErrorResponder routes handler failures through responder. The server
// installs its HandleError here; nil restores apperrors.RespondWithError.
func SetHTTPErrorResponder(responder ErrorResponder) {
	if responder == nil {
		errorResponder.Store(nil)
		return
	}
	errorResponder.Store(&responder)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if responder := errorResponder.Load(); responder != nil {
		(*responder)(w, r, err)
		return
	}
	apperrors.RespondWithError(w, r, err)
}
