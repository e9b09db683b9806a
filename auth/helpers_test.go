package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/sdingwan/kickOauthFlow/middleware"
)

// memSession is an in-memory Session.
type memSession struct {
	kv      map[string][]byte
	renewed int
	cleared int
}

func newMemSession() *memSession {
	return &memSession{kv: map[string][]byte{}}
}

func (m *memSession) Get(key string, dest any) error {
	raw, ok := m.kv[key]
	if !ok {
		return middleware.ErrKeyNotFound
	}
	return cbor.Unmarshal(raw, dest)
}

func (m *memSession) Set(key string, value any) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	m.kv[key] = raw
	return nil
}

func (m *memSession) Delete(key string) { delete(m.kv, key) }

func (m *memSession) Clear() {
	m.kv = map[string][]byte{}
	m.cleared++
}

func (m *memSession) Renew() error {
	m.renewed++
	return nil
}

func (m *memSession) has(key string) bool {
	_, ok := m.kv[key]
	return ok
}

func (m *memSession) flow(t *testing.T) FlowState {
	t.Helper()
	var f FlowState
	require.NoError(t, m.Get(flowKey, &f))
	return f
}

func (m *memSession) token(t *testing.T) TokenRecord {
	t.Helper()
	var rec TokenRecord
	require.NoError(t, m.Get(tokenKey, &rec))
	return rec
}

// tokenServer is a fake token endpoint that records every form it receives.
type tokenServer struct {
	*httptest.Server

	mu     sync.Mutex
	forms  []url.Values
	status int
	body   string
	delay  time.Duration
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, body: body}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		status, body, delay := ts.status, ts.body, ts.delay
		ts.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) respond(status int, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status, ts.body = status, body
}

func (ts *tokenServer) calls() []url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]url.Values(nil), ts.forms...)
}

var testNow = time.Unix(1_700_000_000, 0)

const testRedirectURL = "http://localhost:8080/callback"

func testConfig(tokenURL string) Config {
	return Config{
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURL:  testRedirectURL,
		Scopes:       []string{"user:read", "chat:write"},
		AuthorizeURL: "https://id.example.test/oauth/authorize",
		TokenURL:     tokenURL,
	}
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := NewService(cfg)
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return svc
}

var localRequest = Request{Scheme: "http", Host: "localhost:8080", URI: "/login"}
