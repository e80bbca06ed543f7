package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/petnestiq/habitat-gateway/internal/gateway"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable values of Error.Code.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeTimeout        = "command_timeout"
	ErrCodeCommandFailed  = "command_failed"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeClientCanceled = "client_cancelled"
)

// gatewayErrors is checked in order; the first sentinel matched by
// errors.Is decides the response.
var gatewayErrors = []struct {
	target error
	status int
	code   string
}{
	{gateway.ErrInvalidArgument, http.StatusBadRequest, ErrCodeValidation},
	{gateway.ErrConfiguration, http.StatusBadRequest, ErrCodeValidation},
	{gateway.ErrStateConflict, http.StatusConflict, ErrCodeConflict},
	{gateway.ErrDuplicateRequest, http.StatusConflict, ErrCodeConflict},
	{gateway.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeNotConnected},
	{gateway.ErrCommandTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
	{gateway.ErrCommandFailed, http.StatusBadGateway, ErrCodeCommandFailed},
	{gateway.ErrPublish, http.StatusBadGateway, ErrCodeCommandFailed},
	{context.Canceled, http.StatusServiceUnavailable, ErrCodeClientCanceled},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, ErrCodeClientCanceled},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeGatewayError answers with the status of the first matching gateway
// sentinel, or 500 when nothing matches.
func writeGatewayError(w http.ResponseWriter, err error) {
	for _, m := range gatewayErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeInternalError(w, err.Error())
}
