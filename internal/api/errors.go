package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/dharsanguruparan/qrdrop/internal/model"
)

var errInsecureChannel = model.ErrInsecureCredentialChannel

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps service errors onto status codes. Anything unrecognised is
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, model.ErrUnauthorized):
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	case errors.Is(err, model.ErrForbidden):
		respondJSON(w, http.StatusForbidden, errorBody{Error: "invalid credentials"})
	case errors.Is(err, model.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, model.ErrInsecureCredentialChannel):
		respondJSON(w, http.StatusMethodNotAllowed, errorBody{Error: model.ErrInsecureCredentialChannel.Error()})
	case errors.Is(err, model.ErrConflict):
		respondJSON(w, http.StatusConflict, errorBody{Error: model.ErrConflict.Error()})
	case errors.Is(err, model.ErrInactive):
		respondJSON(w, http.StatusGone, errorBody{Error: model.ErrInactive.Error()})
	case errors.Is(err, model.ErrCodeSpaceExhausted):
		log.Printf("code allocation failed: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, errorBody{Error: "could not allocate a code, try again"})
	default:
		log.Printf("request failed: %v", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeJSON reads at most limit bytes of JSON into dst. An empty body leaves
// dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.Invalid("body", "exceeds %d bytes", limit)
	}
	return model.Invalid("body", "invalid JSON")
}
