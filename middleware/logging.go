package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

// RequestIDHeader carries the request id back to the client.
const RequestIDHeader = "X-Request-Id"

// RequestLogger attaches a per-request zerolog.Logger (tagged with a fresh
// request id) to the context and logs one line per request once the chain
// has run. Handlers retrieve it with zerolog.Ctx.
type RequestLogger struct {
	Logger zerolog.Logger
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Process implements endpoint.Processor.
func (l RequestLogger) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	id := uuid.NewString()
	logger := l.Logger.With().Str("request_id", id).Logger()
	w.Header().Set(RequestIDHeader, id)
	*r = *r.WithContext(logger.WithContext(r.Context()))

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	err := next(sw, r)

	status := sw.status
	if status == 0 {
		status = errorStatus(err)
	}
	ev := logger.Info()
	if status >= http.StatusInternalServerError {
		ev = logger.Error().Err(err)
	} else if err != nil && status >= http.StatusBadRequest {
		ev = logger.Warn().Err(err)
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("request")
	return err
}

// errorStatus predicts the status the endpoint handler will write for err.
func errorStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var resp *endpoint.Response
	if errors.As(err, &resp) {
		if rr, ok := resp.Renderer.(*endpoint.RedirectRenderer); ok {
			if rr.Status != 0 {
				return rr.Status
			}
			return http.StatusFound
		}
		return http.StatusOK
	}
	var ee *endpoint.EndpointError
	if errors.As(err, &ee) && ee.Status >= 100 {
		return ee.Status
	}
	return http.StatusInternalServerError
}

var _ endpoint.Processor = RequestLogger{}
