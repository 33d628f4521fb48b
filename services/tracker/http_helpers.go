package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"jobwatch/pkg/jobs"
)

func decodeJSON(r *http.Request, dest any) error {
	return decodeBody(r, dest, true)
}

// decodeLenientJSON accepts fields dest does not declare and drops them.
func decodeLenientJSON(r *http.Request, dest any) error {
	return decodeBody(r, dest, false)
}

func decodeBody(r *http.Request, dest any, strict bool) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondFailure maps a service error onto its HTTP status.
func respondFailure(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
