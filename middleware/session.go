package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

var (
	ErrNilSession  = errors.New("nil session")
	ErrKeyNotFound = errors.New("session: key not found")
)

// SessionIDBytes is the number of random bytes in a session ID.
const SessionIDBytes = 16

// DefaultSessionPeriod is how long a new session lives.
const DefaultSessionPeriod = 24 * time.Hour

// MaxExtendedPeriod caps the total lifetime of a session, however often it
// is extended.
const MaxExtendedPeriod = 90 * 24 * time.Hour

// DefaultExtendThreshold is the remaining lifetime below which a session is
// pushed forward on use.
const DefaultExtendThreshold = DefaultSessionPeriod / 4

// DefaultCookieName names the session cookie.
const DefaultCookieName = "kickoauth"

// Session is the per-browser key/value store carried in a sealed cookie.
//
// A request without a cookie starts with an empty session; the cookie is
// only issued once something is stored.
type Session interface {
	// ID returns the session identifier, or "" before the session exists.
	ID() string
	// Expires returns the session expiry, or the zero time before the
	// session exists.
	Expires() time.Time
	// Get decodes the value stored under key into dest. It returns
	// ErrKeyNotFound if there is none.
	Get(key string, dest any) error
	// Set stores value under key, creating the session if needed.
	Set(key string, value any) error
	// Delete removes key. Missing keys are ignored.
	Delete(key string)
	// Renew issues a fresh ID and lifetime while keeping the stored values.
	Renew() error
	// Clear drops the session and expires the cookie.
	Clear()
}

type sessionData struct {
	ID string `cbor:"1,keysasint"`
	// Expires is the absolute expiry.
	Expires time.Time `cbor:"2,keysasint"`
	// Period is the distance from creation to Expires, in seconds. It grows
	// as the session is extended.
	Period int                        `cbor:"3,keysasint"`
	KV     map[string]cbor.RawMessage `cbor:"4,keysasint,omitempty"`
}

func newSessionData(period time.Duration) (*sessionData, error) {
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	// Truncating moves creation slightly into the past.
	now := time.Now().Truncate(time.Second)
	return &sessionData{
		ID:      base64.RawURLEncoding.EncodeToString(b),
		Expires: now.Add(period),
		Period:  int(period.Seconds()),
		KV:      map[string]cbor.RawMessage{},
	}, nil
}

// validate reports whether sd is usable at now, and whether it was extended
// to now+period because less than threshold remained.
func (sd *sessionData) validate(now time.Time, threshold, period time.Duration) (ok, extended bool) {
	if sd == nil || sd.ID == "" {
		return false, false
	}
	if sd.Period <= 0 || sd.Period > int(MaxExtendedPeriod.Seconds()) {
		return false, false
	}
	if sd.Expires.IsZero() || !now.Before(sd.Expires) {
		return false, false
	}
	if threshold <= 0 || period < threshold || sd.Expires.Sub(now) >= threshold {
		return true, false
	}
	return true, sd.extendTo(now.Add(period))
}

// extendTo moves Expires forward to at most issued+MaxExtendedPeriod.
func (sd *sessionData) extendTo(expires time.Time) bool {
	expires = expires.Truncate(time.Second)
	issued := sd.Expires.Add(-time.Duration(sd.Period) * time.Second)
	if limit := issued.Add(MaxExtendedPeriod); expires.After(limit) {
		expires = limit
	}
	if !expires.After(sd.Expires) {
		return false
	}
	sd.Period += int(expires.Sub(sd.Expires).Seconds())
	sd.Expires = expires
	return true
}

type cookieSession struct {
	data   *sessionData
	period time.Duration
	dirty  bool
}

func (s *cookieSession) ID() string {
	if s == nil || s.data == nil {
		return ""
	}
	return s.data.ID
}

func (s *cookieSession) Expires() time.Time {
	if s == nil || s.data == nil {
		return time.Time{}
	}
	return s.data.Expires
}

func (s *cookieSession) Get(key string, dest any) error {
	if s == nil {
		return ErrNilSession
	}
	if s.data == nil {
		return ErrKeyNotFound
	}
	raw, ok := s.data.KV[key]
	if !ok {
		return ErrKeyNotFound
	}
	return cbor.Unmarshal(raw, dest)
}

func (s *cookieSession) Set(key string, value any) error {
	if s == nil {
		return ErrNilSession
	}
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	if s.data == nil {
		sd, err := newSessionData(s.period)
		if err != nil {
			return err
		}
		s.data = sd
	}
	if s.data.KV == nil {
		s.data.KV = map[string]cbor.RawMessage{}
	}
	s.data.KV[key] = raw
	s.dirty = true
	return nil
}

func (s *cookieSession) Delete(key string) {
	if s == nil || s.data == nil {
		return
	}
	if _, ok := s.data.KV[key]; !ok {
		return
	}
	delete(s.data.KV, key)
	s.dirty = true
}

func (s *cookieSession) Renew() error {
	if s == nil {
		return ErrNilSession
	}
	sd, err := newSessionData(s.period)
	if err != nil {
		return err
	}
	if s.data != nil {
		sd.KV = s.data.KV
	}
	s.data = sd
	s.dirty = true
	return nil
}

func (s *cookieSession) Clear() {
	if s == nil {
		return
	}
	s.data = nil
	s.dirty = true
}

type sessionContextKey struct{}

// WithSession stores sess in ctx.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the Session stored in ctx, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}

// SessionProcessor loads the session cookie, puts the Session in the
// request context and writes the cookie back just before the response
// headers go out, if anything changed.
type SessionProcessor struct {
	cookie          *SecureCookie
	period          time.Duration
	extendThreshold time.Duration
	now             func() time.Time
}

// SessionProcessorOption configures a SessionProcessor.
type SessionProcessorOption func(*sessionProcessorConfig)

type sessionProcessorConfig struct {
	cookieName      string
	cookieOptions   []SecureCookieOption
	period          time.Duration
	extendThreshold time.Duration
}

// WithCookieName sets the session cookie name.
func WithCookieName(name string) SessionProcessorOption {
	return func(c *sessionProcessorConfig) { c.cookieName = name }
}

// WithCookieOptions passes options through to the SecureCookie.
func WithCookieOptions(opts ...SecureCookieOption) SessionProcessorOption {
	return func(c *sessionProcessorConfig) { c.cookieOptions = append(c.cookieOptions, opts...) }
}

// WithMaxAge sets the session lifetime.
func WithMaxAge(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) { c.period = d }
}

// WithExtendThreshold sets when an active session is extended.
func WithExtendThreshold(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) { c.extendThreshold = d }
}

// NewSessionProcessor creates a SessionProcessor sealing cookies with
// keys[keyID].
func NewSessionProcessor(keyID string, keys map[string][]byte, opts ...SessionProcessorOption) (*SessionProcessor, error) {
	cfg := sessionProcessorConfig{
		cookieName:      DefaultCookieName,
		period:          DefaultSessionPeriod,
		extendThreshold: DefaultExtendThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.period <= 0 {
		cfg.period = DefaultSessionPeriod
	}
	cookie, err := NewSecureCookie(cfg.cookieName, keyID, keys, cfg.cookieOptions...)
	if err != nil {
		return nil, err
	}
	return &SessionProcessor{
		cookie:          cookie,
		period:          cfg.period,
		extendThreshold: cfg.extendThreshold,
		now:             time.Now,
	}, nil
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	sess := &cookieSession{period: p.period}

	if c, err := r.Cookie(p.cookie.Name()); err == nil {
		var sd sessionData
		if err := p.cookie.Decode(c, &sd); err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("discarding unreadable session cookie")
			sess.dirty = true
		} else if ok, extended := sd.validate(p.now(), p.extendThreshold, p.period); ok {
			sess.data = &sd
			sess.dirty = extended
		} else {
			sess.dirty = true
		}
	}

	ctx := r.Context()
	endpoint.Defer(ctx, func(w http.ResponseWriter) {
		p.writeCookie(ctx, w, sess)
	})

	*r = *r.WithContext(WithSession(r.Context(), sess))
	return next(w, r)
}

func (p *SessionProcessor) writeCookie(ctx context.Context, w http.ResponseWriter, sess *cookieSession) {
	if !sess.dirty {
		return
	}
	if sess.data == nil {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	maxAge := int(sess.data.Expires.Sub(p.now()).Seconds())
	if maxAge <= 0 {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	c, err := p.cookie.Encode(sess.data, maxAge)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sess.data.ID).Msg("session cookie not written")
		return
	}
	http.SetCookie(w, c)
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
var _ Session = (*cookieSession)(nil)
