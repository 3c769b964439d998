package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/natefell/quizarena/internal/errors"
)

// Error codes for standardized API error responses
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// apiError is the JSON body of every error response
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

// writeServiceError maps an application error onto an HTTP response
func writeServiceError(w http.ResponseWriter, err error) {
	switch errors.KindOf(err) {
	case errors.ErrNotFound:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.ErrValidation, errors.ErrInvalidInput:
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.ErrUnauthorized:
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalServer, "internal server error")
	}
}
