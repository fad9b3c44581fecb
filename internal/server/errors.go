package server

import (
	"net/http"

	apperrors "github.com/gifmotion/gifmotion/internal/errors"
	servermw "github.com/gifmotion/gifmotion/internal/server/middleware"
)

// HandleError central handler for all errors
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := servermw.AsRejection(err); ok {
		err = rejectionEnvelope(rej)
	}
	apperrors.RespondWithError(w, r, err)
}

func rejectionEnvelope(rej *servermw.Rejection) error {
	switch rej.Reason {
	case servermw.RejectUnauthorized:
		return apperrors.NewUnauthorizedError(rej.Message)
	case servermw.RejectRateLimited:
		return apperrors.NewRateLimitedError(rej.Message, rej.RetryAfterSeconds())
	default:
		return apperrors.NewInternalError(rej.Message)
	}
}
