package vapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuth            = errors.New("vapi: unauthorized")
	ErrNotFound        = errors.New("vapi: not found")
	ErrNetwork         = errors.New("vapi: network failure")
	ErrRequestFailed   = errors.New("vapi: request failed")
	ErrInvalidArgument = errors.New("vapi: invalid argument")
)

// StatusError is returned for every non-2xx response.
// It unwraps to ErrAuth, ErrNotFound or ErrRequestFailed.
type StatusError struct {
	Status int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s (status %d)", e.kind, e.Status)
	}
	return fmt.Sprintf("%s (status %d): %s", e.kind, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

const maxErrorBody = 512

func statusError(status int, body []byte) *StatusError {
	kind := ErrRequestFailed
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = ErrAuth
	case http.StatusNotFound:
		kind = ErrNotFound
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Status: status, Body: string(body), kind: kind}
}
