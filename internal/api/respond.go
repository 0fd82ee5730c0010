package api

import (
	"encoding/json"
	"net/http"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/logger"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Named("http").Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps err to its status and a client-safe detail. Server-side failures are logged
// with their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.C(r.Context()).Error().Err(err).Str("kind", apperr.KindOf(err).String()).
			Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Detail: apperr.PublicMessage(err)})
}
