package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Bounds on token endpoint calls.
const (
	ExchangeTimeout = 20 * time.Second
	RefreshTimeout  = 20 * time.Second
)

// Service runs the authorization code flow with PKCE against a single
// provider and keeps the resulting tokens fresh. It holds no per-user state:
// everything lives in the Session passed to each call.
type Service struct {
	cfg   Config
	oauth *oauth2.Config
	guard *HostGuard
	now   func() time.Time
}

// NewService validates the shape of cfg. Missing credentials are not an
// error here; they are reported by each login attempt.
func NewService(cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	guard, err := NewHostGuard(cfg.RedirectURL)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		guard: guard,
		now:   time.Now,
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Guard returns the host guard for the configured redirect URI.
func (s *Service) Guard() *HostGuard {
	return s.guard
}

// AuthorizeURL builds the provider authorization URL for state and p.
func (s *Service) AuthorizeURL(state string, p PKCE) string {
	return s.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(p.Verifier))
}

// PrepareLogin starts a new flow: it stores a fresh state and verifier in
// sess, replacing any earlier pending flow, and returns the authorization URL.
func (s *Service) PrepareLogin(ctx context.Context, sess Session) (string, error) {
	if missing := s.cfg.Missing(); len(missing) > 0 {
		return "", newError(ErrConfiguration, PhaseIdle, "missing "+strings.Join(missing, ", "), nil)
	}
	p := NewPKCE()
	state, err := GenerateState()
	if err != nil {
		return "", err
	}
	if err := storeFlow(sess, FlowState{State: state, Verifier: p.Verifier}); err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Debug().Stringer("phase", PhaseAwaitingCode).Msg("authorization flow started")
	return s.AuthorizeURL(state, p), nil
}

// StartLogin is the login entry point: it applies the host guard, then
// redirects the browser to the provider.
func (s *Service) StartLogin(ctx context.Context, req Request, sess Session) (*Redirect, error) {
	if rd := s.guard.Check(req.Scheme, req.Host, req.URI); rd != nil {
		return rd, nil
	}
	u, err := s.PrepareLogin(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &Redirect{URL: u, Status: http.StatusFound}, nil
}

// Token returns the stored token record if it is present and not expired.
func (s *Service) Token(sess Session) (*TokenRecord, bool) {
	rec, err := loadToken(sess)
	if err != nil || IsExpired(rec, s.now()) {
		return nil, false
	}
	return rec, true
}

// IsAuthenticated reports whether sess holds an unexpired token.
func (s *Service) IsAuthenticated(sess Session) bool {
	_, ok := s.Token(sess)
	return ok
}

// BearerHeaderValue returns the Authorization header value for downstream
// API calls. Call RefreshIfNeeded first.
func (s *Service) BearerHeaderValue(sess Session) (string, bool) {
	rec, ok := s.Token(sess)
	if !ok {
		return "", false
	}
	return "Bearer " + rec.AccessToken, true
}

// Authorize refreshes the token if needed and returns the bearer value.
// A refresh failure is returned alongside ok=false; the next call retries.
func (s *Service) Authorize(ctx context.Context, sess Session) (bearer string, ok bool, err error) {
	err = s.RefreshIfNeeded(ctx, sess)
	bearer, ok = s.BearerHeaderValue(sess)
	return bearer, ok, err
}

// Logout drops everything stored in sess.
func (s *Service) Logout(sess Session) {
	sess.Clear()
}

// detach bounds an outbound call without tying it to the client connection.
func detach(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (s *Service) clientContext(ctx context.Context) context.Context {
	if s.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
}
