package middleware

import (
	"bytes"
	"crypto/cipher"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

func TestSessionData_Validate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name         string
		sd           *sessionData
		wantOK       bool
		wantExtended bool
	}{
		{"nil", nil, false, false},
		{"zero period", &sessionData{ID: "x", Expires: now.Add(time.Hour)}, false, false},
		{"period too long", &sessionData{ID: "x", Expires: now.Add(time.Hour), Period: int(MaxExtendedPeriod.Seconds()) + 1}, false, false},
		{"expired", &sessionData{ID: "x", Expires: now.Add(-time.Second), Period: 10}, false, false},
		{"zero expires", &sessionData{ID: "x", Period: 10}, false, false},
		{"fresh", &sessionData{ID: "x", Expires: now.Add(time.Hour), Period: 3600}, true, false},
		{"near expiry", &sessionData{ID: "x", Expires: now.Add(2 * time.Second), Period: 10}, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, extended := tc.sd.validate(now, 30*time.Second, time.Minute)
			if ok != tc.wantOK || extended != tc.wantExtended {
				t.Fatalf("validate: got (%v,%v) want (%v,%v)", ok, extended, tc.wantOK, tc.wantExtended)
			}
		})
	}
}

func TestSessionData_ExtendToCapped(t *testing.T) {
	issued := time.Now().Add(-time.Hour).Truncate(time.Second)
	sd := &sessionData{ID: "x", Expires: issued.Add(time.Minute), Period: 60}
	sd.extendTo(issued.Add(10 * MaxExtendedPeriod))
	if want := issued.Add(MaxExtendedPeriod); !sd.Expires.Equal(want) {
		t.Fatalf("Expires: got %v want %v", sd.Expires, want)
	}
	if sd.Period != int(MaxExtendedPeriod.Seconds()) {
		t.Fatalf("Period: got %d", sd.Period)
	}
}

func TestCookieSession_LazyCreate(t *testing.T) {
	s := &cookieSession{period: time.Hour}
	if s.ID() != "" || !s.Expires().IsZero() {
		t.Fatalf("expected empty session before Set")
	}
	var v string
	if err := s.Get("k", &v); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.ID() == "" || !s.dirty {
		t.Fatalf("expected session to exist after Set")
	}
	if err := s.Get("k", &v); err != nil || v != "v" {
		t.Fatalf("Get: %v %q", err, v)
	}
}

func TestCookieSession_RenewKeepsValues(t *testing.T) {
	s := &cookieSession{period: time.Hour}
	if err := s.Set("k", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	oldID := s.ID()
	if err := s.Renew(); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if s.ID() == oldID {
		t.Fatalf("expected new session id")
	}
	var n int
	if err := s.Get("k", &n); err != nil || n != 42 {
		t.Fatalf("value lost on renew: %v %d", err, n)
	}
}

func TestCookieSession_DeleteAndClear(t *testing.T) {
	s := &cookieSession{period: time.Hour}
	_ = s.Set("a", 1)
	_ = s.Set("b", 2)
	s.Delete("a")
	s.Delete("missing")
	var n int
	if err := s.Get("a", &n); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected a deleted, got %v", err)
	}
	s.Clear()
	if s.ID() != "" {
		t.Fatalf("expected no session after Clear")
	}
	if err := s.Get("b", &n); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected b gone, got %v", err)
	}
}

func newTestProcessor(t *testing.T) *SessionProcessor {
	t.Helper()
	p, err := NewSessionProcessor("k", map[string][]byte{"k": randomKey(t)}, WithCookieOptions(WithSecure(false)))
	if err != nil {
		t.Fatalf("NewSessionProcessor: %v", err)
	}
	return p
}

func sessionHandler(p *SessionProcessor, fn func(Session)) http.Handler {
	return endpoint.HandleFunc(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			return nil, errors.New("no session")
		}
		fn(sess)
		return &endpoint.StringRenderer{Body: "ok"}, nil
	}, p)
}

func TestSessionProcessor_NoCookieUntilSet(t *testing.T) {
	p := newTestProcessor(t)
	rec := httptest.NewRecorder()
	sessionHandler(p, func(Session) {}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie for untouched session")
	}
}

func TestSessionProcessor_RoundTrip(t *testing.T) {
	p := newTestProcessor(t)

	rec := httptest.NewRecorder()
	sessionHandler(p, func(s Session) {
		if err := s.Set("greeting", "hi"); err != nil {
			t.Errorf("Set: %v", err)
		}
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName {
		t.Fatalf("expected one session cookie, got %v", cookies)
	}
	if cookies[0].SameSite != http.SameSiteLaxMode || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookie flags %+v", cookies[0])
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	var got string
	sessionHandler(p, func(s Session) {
		if err := s.Get("greeting", &got); err != nil {
			t.Errorf("Get: %v", err)
		}
	}).ServeHTTP(rec, req)
	if got != "hi" {
		t.Fatalf("expected stored value, got %q", got)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("unchanged session should not be rewritten")
	}
}

func TestSessionProcessor_ClearExpiresCookie(t *testing.T) {
	p := newTestProcessor(t)
	rec := httptest.NewRecorder()
	sessionHandler(p, func(s Session) { _ = s.Set("x", 1) }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	rec = httptest.NewRecorder()
	sessionHandler(p, func(s Session) { s.Clear() }).ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %v", cookies)
	}
}

func TestSessionProcessor_GarbageCookieCleared(t *testing.T) {
	p := newTestProcessor(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "k.garbage"})
	rec := httptest.NewRecorder()
	var v int
	sessionHandler(p, func(s Session) {
		if err := s.Get("x", &v); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected empty session, got %v", err)
		}
	}).ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %v", cookies)
	}
}

func TestSessionProcessor_EncodeFailureIsLogged(t *testing.T) {
	calls := 0
	flaky := func(key []byte) (cipher.AEAD, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("aead unavailable")
		}
		return chacha20poly1305.NewX(key)
	}
	p, err := NewSessionProcessor("k", map[string][]byte{"k": randomKey(t)},
		WithCookieOptions(WithSecure(false), WithAEAD(flaky)))
	if err != nil {
		t.Fatalf("NewSessionProcessor: %v", err)
	}

	var logs bytes.Buffer
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(zerolog.New(&logs).WithContext(req.Context()))
	rec := httptest.NewRecorder()
	sessionHandler(p, func(s Session) {
		if err := s.Set("token", "abc"); err != nil {
			t.Errorf("Set: %v", err)
		}
	}).ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie when sealing fails")
	}
	if !strings.Contains(logs.String(), "aead unavailable") || !strings.Contains(logs.String(), `"level":"error"`) {
		t.Fatalf("expected the sealing failure in the log, got %q", logs.String())
	}
}
