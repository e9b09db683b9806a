package kick

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound           = errors.New("kick: not found")
	ErrUnauthorized       = errors.New("kick: unauthorized")
	ErrForbidden          = errors.New("kick: access forbidden")
	ErrBlocked            = errors.New("kick: blocked by security policy")
	ErrRateLimited        = errors.New("kick: rate limited")
	ErrUnexpectedResponse = errors.New("kick: unexpected api response structure")
)

// APIError is a non-success response from Kick.
type APIError struct {
	Status int
	Body   string

	kind error
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("kick: api returned %d", e.Status)
	}
	return fmt.Sprintf("kick: api returned %d: %s", e.Status, e.Body)
}

// Unwrap exposes the error kind for the status, if any.
func (e *APIError) Unwrap() error {
	return e.kind
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Body: string(body)}
	switch status {
	case http.StatusUnauthorized:
		e.kind = ErrUnauthorized
	case http.StatusForbidden:
		e.kind = ErrForbidden
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && strings.Contains(strings.ToLower(payload.Error), "security policy") {
			e.kind = ErrBlocked
		}
	case http.StatusNotFound:
		e.kind = ErrNotFound
	case http.StatusTooManyRequests:
		e.kind = ErrRateLimited
	}
	return e
}

// StatusOf returns the HTTP status of an *APIError in err's chain, or 0.
func StatusOf(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
