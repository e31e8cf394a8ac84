// Package errors provides the structured error type rendered on the API
// surface. Every error response carries an OpenAI style error object with a
// type and message.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is an error with an HTTP status and a wire representation.
type APIError struct {
	// HTTPStatus is the status code to respond with.
	HTTPStatus int `json:"-"`
	// Type is the wire error type ("invalid_request_error", ...).
	Type string `json:"type"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Err is the underlying error, kept out of the wire form.
	Err error `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Body returns the JSON error envelope: {"error": {...}}.
func (e *APIError) Body() []byte {
	b, _ := json.Marshal(map[string]*APIError{"error": e})
	return b
}

// InvalidRequest builds a 400 error.
func InvalidRequest(message string, err error) *APIError {
	return &APIError{HTTPStatus: http.StatusBadRequest, Type: "invalid_request_error", Message: message, Err: err}
}

// Unauthorized builds a 401 error.
func Unauthorized(message string) *APIError {
	return &APIError{HTTPStatus: http.StatusUnauthorized, Type: "authentication_error", Message: message}
}

// NotFound builds a 404 error.
func NotFound(message string) *APIError {
	return &APIError{HTTPStatus: http.StatusNotFound, Type: "invalid_request_error", Message: message}
}

// Upstream builds an error for a failed upstream round trip. status <= 0
// selects 502.
func Upstream(status int, message string, err error) *APIError {
	if status <= 0 {
		status = http.StatusBadGateway
	}
	return &APIError{HTTPStatus: status, Type: "upstream_error", Message: message, Err: err}
}

// Internal builds a 500 error.
func Internal(message string, err error) *APIError {
	return &APIError{HTTPStatus: http.StatusInternalServerError, Type: "server_error", Message: message, Err: err}
}
