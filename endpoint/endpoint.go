// Package endpoint builds HTTP handlers as three separate phases:
//
//  1. Decode: the EndpointHandler fills a typed params struct from the
//     request (path, query, form, body, headers) using struct tags.
//  2. Endpoint: the EndpointFunc runs the business logic and returns a
//     Renderer. It never writes to the response itself.
//  3. Render: the Renderer writes status, headers and body.
//
// Processors run before the EndpointFunc and act as middleware. A processor
// either calls next, returns an error (rendered as an HTTP error), or returns
// Respond(renderer) to answer the request itself (e.g. a redirect).
package endpoint

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// EndpointError is a client-visible error that maps to an HTTP status code.
//
// Only Message is written to the client. Cause is kept for logging and
// errors.Is/As matching.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: <nil> error"
	}
	msg := cmp.Or(e.Message, http.StatusText(e.Status), fmt.Sprintf("status %d", e.Status))
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError. An err that already is an EndpointError
// is returned unchanged.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Response is returned (as an error) by a Processor that wants to answer the
// request with its own Renderer instead of continuing the chain.
type Response struct {
	Renderer Renderer
}

func (r *Response) Error() string {
	return "endpoint: processor response"
}

// Respond wraps a Renderer so a Processor can short-circuit the chain with it.
func Respond(renderer Renderer) error {
	return &Response{Renderer: renderer}
}

// Renderers write a response into an http.ResponseWriter.
//
// A Renderer MUST call w.WriteHeader() and may set headers (such as
// Content-Type) before doing so. A returned error means the response could
// not be written; the handler turns it into a 500 when nothing was written yet.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Processor is middleware-style logic that runs before the Renderer.
//
// Processors MUST call next(...) unless they short-circuit, and MUST NOT
// write the status line or body. Returning any error stops the chain.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc is the wrapped handler function type.
//
// It receives the decoded params and returns the Renderer for the response.
// Status, Content-Type and body are the Renderer's business.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler. It exists for type inference of P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

type hooksKey struct{}

// Defer registers fn to run just before the response headers are written.
// fn must not call WriteHeader.
//
// Outside an EndpointHandler there is no hook registry and Defer is a no-op,
// so processors relying on it (sessions) silently lose their writes.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit runs the hooks registered with Defer, newest first, then clears them.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if ok && hooks != nil {
		for i := len(*hooks) - 1; i >= 0; i-- {
			(*hooks)[i](w)
		}
		*hooks = nil
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	err := h.step(0)(w, r)
	var resp *Response
	if errors.As(err, &resp) && resp.Renderer != nil {
		err = render(w, r, resp.Renderer)
	}
	if err != nil {
		writeError(w, r, err)
	}
}

// step returns the continuation that runs processor i, or decodes params
// and calls the endpoint once every processor has passed.
func (h *EndpointHandler[P]) step(i int) func(http.ResponseWriter, *http.Request) error {
	if i < len(h.Processors) {
		p := h.Processors[i]
		return func(w http.ResponseWriter, r *http.Request) error {
			if p == nil {
				return errors.New("endpoint: nil processor")
			}
			return p.Process(w, r, h.step(i+1))
		}
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		if h.Endpoint == nil {
			return errors.New("endpoint: nil EndpointFunc")
		}
		var params P
		if err := Unmarshal(r, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w, r, params)
		switch {
		case err != nil:
			return err
		case renderer == nil:
			return errors.New("endpoint: nil renderer")
		}
		return render(w, r, renderer)
	}
}

// writeError answers with the status and message of an EndpointError, or a
// 500 carrying err's text for anything else.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, err.Error()
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		if ee.Status >= 100 {
			status = ee.Status
		}
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg("endpoint failed")
	}
	Commit(r.Context(), w)
	http.Error(w, message, status)
}

func render(w http.ResponseWriter, r *http.Request, renderer Renderer) error {
	if c, ok := renderer.(io.Closer); ok {
		defer c.Close()
	}
	Commit(r.Context(), w)
	return renderer.Render(w, r)
}
