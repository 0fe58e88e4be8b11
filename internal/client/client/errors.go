package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
	ErrNetwork      = errors.New("network error")
	ErrValidation   = errors.New("validation error")
)

var genericMessages = map[error]string{
	ErrUnauthorized: "You are not signed in or your session has expired.",
	ErrNotFound:     "The requested resource was not found.",
	ErrServer:       "Server error. Please try again later.",
	ErrNetwork:      "Network error. Please check your connection.",
	ErrValidation:   "The request was rejected.",
}

// RequestError describes a failed backend call. Structured is true when the
// backend answered with a JSON error body of its own.
type RequestError struct {
	Kind       error
	Status     int
	Message    string
	Fields     map[string]string
	Structured bool
	Err        error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// kindForStatus maps a non-2xx status to its error kind.
func kindForStatus(status int) error {
	switch {
	case status == 401:
		return ErrUnauthorized
	case status == 404:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	case status >= 400:
		return ErrValidation
	default:
		return ErrServer
	}
}

func genericMessage(kind error) string {
	if msg, ok := genericMessages[kind]; ok {
		return msg
	}
	return "An error occurred."
}
