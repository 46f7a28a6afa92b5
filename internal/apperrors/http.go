package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// StatusCode maps an error to the HTTP status a handler should answer with.
func StatusCode(err error) int {
	switch TypeOf(err) {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// WriteError writes err as a JSON error body. Internal details are logged
// and never sent to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	body := errorBody{Error: http.StatusText(status)}

	var appErr *AppError
	if errors.As(err, &appErr) {
		body.Code = appErr.Code
		body.Fields = appErr.Fields
		if status < http.StatusInternalServerError {
			body.Error = appErr.Message
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}

	WriteJSON(w, status, body)
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
