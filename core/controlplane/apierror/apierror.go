package apierror

import (
	"errors"
	"net/http"
)

// Error is a machine-readable failure carried from the domain layer to the
// transport layer. The controller maps it to a response without inventing
// new categories.
type Error struct {
	Code        string   `json:"error"`
	Status      int      `json:"-"`
	Message     string   `json:"message,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// New constructs an Error with the given code, HTTP status and message.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// From extracts an *Error from err, or wraps it as a generic 500.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Code: "internal_error", Status: http.StatusInternalServerError, Message: err.Error()}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
