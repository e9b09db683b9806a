package auth

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/endpoint"
	"github.com/sdingwan/kickOauthFlow/middleware"
)

// Handler serves the login endpoints:
//
//	GET /login        start a flow and redirect to the provider
//	GET /callback     complete the flow
//	GET /login/debug  start a flow and show the authorization URL instead
//	GET /logout       clear the session
//
// The session processor must be among the processors; the Handler reads the
// session from the request context.
type Handler struct {
	mux        *http.ServeMux
	svc        *Service
	processors []endpoint.Processor
}

// Option configures the Handler.
type Option func(*Handler)

// WithProcessors adds processors to every auth endpoint, in order.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *Service, opts ...Option) *Handler {
	h := &Handler{mux: http.NewServeMux(), svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	h.mux.Handle("GET /login", endpoint.Handler(h.login, h.processors...))
	h.mux.Handle("GET /callback", endpoint.Handler(h.callback, h.processors...))
	h.mux.Handle("GET /login/debug", endpoint.Handler(h.debug, h.processors...))
	h.mux.Handle("GET /logout", endpoint.Handler(h.logout, h.processors...))
	return h
}

// Register mounts the auth endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, pattern := range []string{"GET /login", "GET /callback", "GET /login/debug", "GET /logout"} {
		mux.Handle(pattern, h)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func requestSession(r *http.Request) (middleware.Session, error) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return nil, endpoint.Error(http.StatusInternalServerError, "", errors.New("auth: no session in request context"))
	}
	return sess, nil
}

func redirectTo(rd *Redirect) endpoint.Renderer {
	return &endpoint.RedirectRenderer{
		URL:     rd.URL,
		Status:  rd.Status,
		Headers: http.Header{"Cache-Control": {"no-store"}},
	}
}

func (h *Handler) login(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	rd, err := h.svc.StartLogin(r.Context(), RequestFromHTTP(r), sess)
	if err != nil {
		return h.failure(r, err)
	}
	return redirectTo(rd), nil
}

func (h *Handler) callback(_ http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	rd, err := h.svc.HandleCallback(r.Context(), RequestFromHTTP(r), sess, params)
	if err != nil {
		return h.failure(r, err)
	}
	return redirectTo(rd), nil
}

func (h *Handler) debug(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	req := RequestFromHTTP(r)
	if rd := h.svc.Guard().Check(req.Scheme, req.Host, req.URI); rd != nil {
		return redirectTo(rd), nil
	}
	authURL, err := h.svc.PrepareLogin(r.Context(), sess)
	if err != nil {
		return h.failure(r, err)
	}
	return &endpoint.TemplateRenderer{
		Template: pages,
		Name:     "debug",
		Values: map[string]string{
			"AuthURL":     authURL,
			"RedirectURI": h.svc.Config().RedirectURL,
		},
	}, nil
}

func (h *Handler) logout(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	req := RequestFromHTTP(r)
	if rd := h.svc.Guard().Check(req.Scheme, req.Host, req.URI); rd != nil {
		return redirectTo(rd), nil
	}
	h.svc.Logout(sess)
	return &endpoint.RedirectRenderer{URL: "/", Status: http.StatusFound}, nil
}

// failure renders an auth Error as an HTML page. Other errors go to the
// generic endpoint error path.
func (h *Handler) failure(r *http.Request, err error) (endpoint.Renderer, error) {
	var ae *Error
	if !errors.As(err, &ae) {
		return nil, err
	}
	if ae.Status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("login failed")
	}

	view := failureView{Status: ae.Status, ProviderStatus: ae.ProviderStatus, ProviderBody: ae.ProviderBody}
	switch {
	case errors.Is(err, ErrConfiguration):
		view.Title = "Login is not configured"
		view.Message = "The OAuth client settings are incomplete: " + ae.Detail + "."
	case errors.Is(err, ErrStateMismatch):
		view.Title = "State mismatch"
		view.CurrentHost = RequestFromHTTP(r).Host
		view.RedirectHost = h.svc.Guard().Hostname()
		if view.RedirectHost == "" {
			view.RedirectHost = "?"
		}
		view.ShowLogout = true
	case errors.Is(err, ErrMissingCode):
		view.Title = "Missing authorization code"
		var pe *ProviderError
		if errors.As(err, &pe) {
			view.Message = pe.Error()
		}
	case errors.Is(err, ErrUpstreamTimeout):
		view.Title = "Token exchange timed out"
		view.Message = "The identity provider did not answer in time. Please log in again."
	case errors.Is(err, ErrCodeExchange):
		view.Title = "Token exchange failed"
	default:
		view.Title = "Login failed"
		view.Message = ae.Error()
	}
	return &endpoint.TemplateRenderer{Status: ae.Status, Template: pages, Name: "failure", Values: view}, nil
}

type failureView struct {
	Status         int
	Title          string
	Message        string
	CurrentHost    string
	RedirectHost   string
	ShowLogout     bool
	ProviderStatus int
	ProviderBody   string
}

var pages = template.Must(template.New("auth").Parse(`
{{define "failure"}}<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h2>{{.Title}}</h2>
{{if .CurrentHost}}<p>You may have started the flow on '{{.CurrentHost}}' but the redirect URI is '{{.RedirectHost}}'.
Use the same host for /login and in your redirect URI, then try again.</p>{{end}}
{{with .Message}}<p>{{.}}</p>{{end}}
{{if .ProviderStatus}}<p>Provider answered {{.ProviderStatus}}</p><pre>{{.ProviderBody}}</pre>{{end}}
{{if .ShowLogout}}<p><a href="/logout">Clear session</a></p>{{else}}<p><a href="/login">Log in again</a></p>{{end}}
</body></html>
{{end}}
{{define "debug"}}<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>Login debug</title></head>
<body>
<h3>Auth URL your app will use</h3>
<p><code>{{.AuthURL}}</code></p>
<h3>redirect_uri value being sent</h3>
<p><code>{{printf "%q" .RedirectURI}}</code></p>
<p><a href="/login">Proceed to /login</a></p>
</body></html>
{{end}}`))
