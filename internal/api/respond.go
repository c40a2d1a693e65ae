package api

import (
	"encoding/json"
	"net/http"

	"github.com/wku/velox-orchestrator/internal/apierr"
	"github.com/wku/velox-orchestrator/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger.Error().Err(err).Msg("encoding response body")
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

func writeStatus(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps a domain error to its HTTP status per apierr.StatusFor
// and writes {"error": message}. Unrecognized errors log server-side and
// return a generic 500 body, never the raw error text.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Logger.Error().Err(err).Msg("unhandled api error")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.InvalidInput, "decoding request body", err)
	}
	return nil
}
