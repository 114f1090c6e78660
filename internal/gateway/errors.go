package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated   = errors.New("not logged in")
	ErrUnknownCollection = errors.New("unknown collection")
)

// APIError is a non-2xx response from the ledger API.
type APIError struct {
	Status     int
	Message    string
	Collection Collection
	Method     string
	Path       string
}

func (e *APIError) Error() string { return e.Message }

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsAuthError reports whether the API rejected the credentials.
func IsAuthError(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden || errors.Is(err, ErrUnauthenticated)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Message returns the text a user should see for err.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, ErrUnauthenticated) {
		return "Please log in again."
	}
	return "Something went wrong. Please try again."
}

// errorMessage picks the body's "message", then "error", then a status line.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if m := strings.TrimSpace(payload.Message); m != "" {
			return m
		}
		if m := strings.TrimSpace(payload.Error); m != "" {
			return m
		}
	}
	return fmt.Sprintf("Error %d: %s", status, http.StatusText(status))
}
