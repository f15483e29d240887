package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/omniflow-labs/omniflow/internal/apperr"
	"github.com/omniflow-labs/omniflow/internal/dispatch"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps an error kind to its HTTP status code.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidIdentifier, apperr.KindMissingArgument, apperr.KindMalformedInput:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindEntryNotFound:
		return http.StatusNotFound
	case apperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a failed tool call as its error envelope.
func writeError(w http.ResponseWriter, ns string, err error) {
	writeJSON(w, statusFor(err), dispatch.ErrorEnvelope(ns, err))
}
