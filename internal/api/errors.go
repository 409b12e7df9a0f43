package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
)

// apiError pairs a status with its code.
type apiError struct {
	status int
	code   string
}

var (
	errNotFound     = apiError{http.StatusNotFound, ErrCodeNotFound}
	errInternal     = apiError{http.StatusInternalServerError, ErrCodeInternal}
	errUnauthorized = apiError{http.StatusUnauthorized, ErrCodeUnauthorized}
	errForbidden    = apiError{http.StatusForbidden, ErrCodeForbidden}
)

func (e apiError) write(w http.ResponseWriter, msg string) {
	writeJSON(w, e.status, Error{Status: e.status, Code: e.code, Message: msg})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="hubrelay"`)
	errUnauthorized.write(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v) // status already sent
	}
}
