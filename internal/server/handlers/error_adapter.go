package handlers

import (
	"net/http"

	apperrors "github.com/llmgate/llmgate/internal/errors"
)

type errorResponder func(http.ResponseWriter, *http.Request, error)

var httpErrorResponder errorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder routes handler failures through the server's error
// handler. nil restores direct envelope responses.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	if responder == nil {
		responder = apperrors.RespondWithError
	}
	httpErrorResponder = responder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
