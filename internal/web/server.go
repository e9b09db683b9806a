// Package web serves the pages and JSON endpoints that sit on top of the
// authenticated session: profile, channel lookup and autocomplete, and chat.
package web

import (
	"cmp"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/auth"
	"github.com/sdingwan/kickOauthFlow/endpoint"
	"github.com/sdingwan/kickOauthFlow/kick"
	"github.com/sdingwan/kickOauthFlow/middleware"
)

// Options are the dependencies of a Server.
type Options struct {
	Auth     *auth.Service
	Kick     *kick.Client
	Sessions *middleware.SessionProcessor
	Logger   zerolog.Logger
	// Pusher defaults to Kick's public chat app.
	Pusher Pusher
	// TrustProxy applies X-Forwarded-* headers.
	TrustProxy bool
}

// Server is the application's http.Handler.
type Server struct {
	auth   *auth.Service
	kick   *kick.Client
	pusher Pusher
	mux    *http.ServeMux
}

// New wires every route.
//
// All routes log and honour forwarded headers. Pages and the login
// endpoints get the page security headers and the session; pages that act
// for the user also pass the host guard, so their session cookie is the one
// the login set. JSON endpoints get the API security headers.
func New(opts Options) (*Server, error) {
	if opts.Auth == nil || opts.Kick == nil || opts.Sessions == nil {
		return nil, errors.New("web: Auth, Kick and Sessions are required")
	}
	pusher := Pusher{
		Key:     cmp.Or(opts.Pusher.Key, DefaultPusherKey),
		Cluster: cmp.Or(opts.Pusher.Cluster, DefaultPusherCluster),
	}
	if err := pusher.validate(); err != nil {
		return nil, err
	}
	s := &Server{auth: opts.Auth, kick: opts.Kick, pusher: pusher, mux: http.NewServeMux()}

	base := []endpoint.Processor{
		middleware.RequestLogger{Logger: opts.Logger},
		middleware.ForwardedProcessor{Trust: opts.TrustProxy},
	}
	chain := func(p ...endpoint.Processor) []endpoint.Processor {
		return append(slices.Clip(base), p...)
	}
	pageHeaders := middleware.NewSecurityHeadersProcessor()
	apiHeaders := middleware.NewAPISecurityHeadersProcessor()
	guard := opts.Auth.Guard()

	pages := chain(pageHeaders, opts.Sessions)
	guardedPages := chain(pageHeaders, guard, opts.Sessions)
	api := chain(apiHeaders, opts.Sessions)
	guardedAPI := chain(apiHeaders, guard, opts.Sessions)

	auth.NewHandler(opts.Auth, auth.WithProcessors(pages...)).Register(s.mux)

	s.mux.Handle("GET /{$}", endpoint.Handler(s.index, pages...))
	s.mux.Handle("GET /me", endpoint.Handler(s.me, guardedPages...))
	s.mux.Handle("GET /channels/search", endpoint.Handler(s.channelSearch, guardedPages...))
	s.mux.Handle("GET /channels/{slug}", endpoint.Handler(s.channelRedirect, chain(pageHeaders)...))
	s.mux.Handle("GET /live-chat", endpoint.Handler(s.liveChat, chain(pusher.headers(), guard, opts.Sessions)...))
	s.mux.Handle("POST /send-chat", endpoint.Handler(s.sendChat, guardedAPI...))
	// Unguarded: lookups answer on any host, and a token refresh they trigger
	// only rewrites the cookie of the host they were called on.
	s.mux.Handle("GET /channels/suggest", endpoint.Handler(s.suggest, api...))
	s.mux.Handle("GET /resolve/broadcaster-id", endpoint.Handler(s.resolveBroadcaster, api...))
	s.mux.Handle("GET /resolve/chatroom-id", endpoint.Handler(s.resolveChatroom, chain(apiHeaders)...))
	s.mux.Handle("GET /static/{name}", endpoint.Handler(s.static, base...))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func requestSession(r *http.Request) (middleware.Session, error) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return nil, endpoint.Error(http.StatusInternalServerError, "", errors.New("web: no session in request context"))
	}
	return sess, nil
}

// optionalBearer returns the user's bearer value when there is a usable
// token, refreshing it first. Lookups that also work anonymously use it.
func (s *Server) optionalBearer(r *http.Request, sess middleware.Session) string {
	bearer, ok, err := s.auth.Authorize(r.Context(), sess)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("continuing without a token")
	}
	if !ok {
		return ""
	}
	return bearer
}

func (s *Server) scopes() string {
	if scopes := s.auth.Config().Scopes; len(scopes) > 0 {
		return strings.Join(scopes, " ")
	}
	return "(none)"
}

type hostWarning struct {
	Current  string
	Redirect string
	Origin   string
}

// hostMismatch reports when the browser is on a different host name than
// the redirect URI, where a login would lose its session on the way back.
func (s *Server) hostMismatch(r *http.Request) *hostWarning {
	guard := s.auth.Guard()
	want := guard.Hostname()
	cur := (&url.URL{Host: r.Host}).Hostname()
	if want == "" || strings.EqualFold(cur, want) {
		return nil
	}
	return &hostWarning{Current: cur, Redirect: want, Origin: guard.Origin()}
}

type staticParams struct {
	Name string `path:"name"`
}

func (s *Server) static(w http.ResponseWriter, _ *http.Request, p staticParams) (endpoint.Renderer, error) {
	body, err := assets.ReadFile("static/" + p.Name)
	if err != nil {
		return nil, endpoint.Error(http.StatusNotFound, "", err)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	return &endpoint.StringRenderer{
		Body:        string(body),
		ContentType: mime.TypeByExtension(path.Ext(p.Name)),
	}, nil
}
