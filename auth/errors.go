package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
)

// Error kinds, matched with errors.Is.
var (
	ErrConfiguration   = errors.New("oauth client is not configured")
	ErrStateMismatch   = errors.New("state mismatch")
	ErrMissingCode     = errors.New("missing authorization code")
	ErrCodeExchange    = errors.New("token exchange failed")
	ErrRefresh         = errors.New("token refresh failed")
	ErrUpstreamTimeout = errors.New("upstream request timed out")
)

// Error is a failure of the auth flow. It matches its Kind with errors.Is,
// its Cause with errors.Is/As, and ErrUpstreamTimeout when the failure was a
// timed-out provider call.
type Error struct {
	Kind  error
	Phase Phase
	// Status is the HTTP status the failure should be reported with.
	Status int
	Detail string
	// ProviderStatus and ProviderBody are set when the token endpoint
	// answered with a non-success response.
	ProviderStatus int
	ProviderBody   string
	Cause          error

	timeout bool
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.ProviderStatus != 0 {
		msg += fmt.Sprintf(" (provider status %d)", e.ProviderStatus)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.timeout {
		errs = append(errs, ErrUpstreamTimeout)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Timeout reports whether the failure was a timed-out provider call.
func (e *Error) Timeout() bool {
	return e.timeout
}

// ProviderError is the error a provider reports on the callback query
// (error=..., error_description=...).
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return "provider returned " + e.Code
	}
	return "provider returned " + e.Code + ": " + e.Description
}

func kindStatus(kind error) int {
	switch kind {
	case ErrConfiguration:
		return http.StatusInternalServerError
	case ErrRefresh:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func newError(kind error, phase Phase, detail string, cause error) *Error {
	return &Error{Kind: kind, Phase: phase, Status: kindStatus(kind), Detail: detail, Cause: cause}
}

// upstreamError wraps a failed token endpoint call, keeping the provider's
// response for diagnostics.
func upstreamError(ctx context.Context, kind error, phase Phase, err error) *Error {
	e := newError(kind, phase, "", err)
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		e.ProviderStatus = re.Response.StatusCode
		e.ProviderBody = string(re.Body)
	}
	e.timeout = isTimeout(ctx, err)
	return e
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// StatusCode maps err to an HTTP status: the Status of an *Error, 500 for
// anything else.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
