package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	return line
}

func TestRequestLogger_LogsStatusAndID(t *testing.T) {
	var buf bytes.Buffer
	l := RequestLogger{Logger: zerolog.New(&buf)}

	var ctxLoggerUsed bool
	h := endpoint.HandleFunc(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		ctxLoggerUsed = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		return &endpoint.StringRenderer{Status: http.StatusCreated, Body: "ok"}, nil
	}, l)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	if !ctxLoggerUsed {
		t.Fatalf("expected logger in request context")
	}
	id := rec.Header().Get(RequestIDHeader)
	if id == "" {
		t.Fatalf("missing request id header")
	}
	line := decodeLogLine(t, &buf)
	if line["request_id"] != id || line["path"] != "/me" || line["status"] != float64(http.StatusCreated) {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestRequestLogger_ErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	h := endpoint.HandleFunc(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return nil, endpoint.Error(http.StatusBadRequest, "bad state", nil)
	}, RequestLogger{Logger: zerolog.New(&buf)})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))

	line := decodeLogLine(t, &buf)
	if line["status"] != float64(http.StatusBadRequest) || line["level"] != "warn" {
		t.Fatalf("unexpected log line %v", line)
	}
}
