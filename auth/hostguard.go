package auth

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/endpoint"
	"github.com/sdingwan/kickOauthFlow/middleware"
)

// Redirect is a response instruction produced by the auth core.
type Redirect struct {
	URL    string
	Status int
}

// HostGuard keeps the browser on the origin of the configured redirect URI.
//
// The session cookie is scoped to the host the browser used. A login started
// on 127.0.0.1 whose callback lands on localhost would see an empty session
// and fail the state check, so the guard bounces such requests to the
// canonical origin before any session state is touched.
type HostGuard struct {
	scheme   string
	hostname string
	port     string
}

// NewHostGuard builds a guard for redirectURL. An empty redirectURL yields a
// guard that lets everything through.
func NewHostGuard(redirectURL string) (*HostGuard, error) {
	if redirectURL == "" {
		return &HostGuard{}, nil
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("redirect url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("redirect url %q: must be an absolute http(s) url", redirectURL)
	}
	return &HostGuard{
		scheme:   scheme,
		hostname: strings.ToLower(u.Hostname()),
		port:     effectivePort(scheme, u.Port()),
	}, nil
}

func effectivePort(scheme, port string) string {
	if port != "" {
		return port
	}
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// Hostname returns the canonical host name, or "" for a pass-through guard.
func (g *HostGuard) Hostname() string {
	if g == nil {
		return ""
	}
	return g.hostname
}

// Origin returns scheme://host[:port] of the redirect URI, omitting default
// ports.
func (g *HostGuard) Origin() string {
	if g == nil || g.hostname == "" {
		return ""
	}
	if g.port == effectivePort(g.scheme, "") {
		host := g.hostname
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		return g.scheme + "://" + host
	}
	return g.scheme + "://" + net.JoinHostPort(g.hostname, g.port)
}

// Check compares the request origin with the redirect URI. It returns nil
// when they match (scheme, case-insensitive host name, effective port) and a
// 302 to the same requestURI on the canonical origin otherwise.
func (g *HostGuard) Check(scheme, hostport, requestURI string) *Redirect {
	if g == nil || g.hostname == "" {
		return nil
	}
	scheme = strings.ToLower(scheme)
	cur := url.URL{Host: hostport}
	if scheme == g.scheme &&
		strings.EqualFold(cur.Hostname(), g.hostname) &&
		effectivePort(scheme, cur.Port()) == g.port {
		return nil
	}
	if requestURI == "" {
		requestURI = "/"
	}
	return &Redirect{URL: g.Origin() + requestURI, Status: http.StatusFound}
}

// Process implements endpoint.Processor.
func (g *HostGuard) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	req := RequestFromHTTP(r)
	if rd := g.Check(req.Scheme, req.Host, req.URI); rd != nil {
		zerolog.Ctx(r.Context()).Debug().Str("from", req.Host).Str("to", g.Origin()).Msg("redirecting to canonical host")
		return endpoint.Respond(&endpoint.RedirectRenderer{URL: rd.URL, Status: rd.Status})
	}
	return next(w, r)
}

// Request is the part of an inbound request the auth core looks at.
type Request struct {
	Scheme string
	Host   string
	URI    string
}

// RequestFromHTTP extracts a Request, honouring the scheme recorded by
// middleware.ForwardedProcessor.
func RequestFromHTTP(r *http.Request) Request {
	return Request{
		Scheme: middleware.RequestScheme(r),
		Host:   r.Host,
		URI:    r.URL.RequestURI(),
	}
}

var _ endpoint.Processor = (*HostGuard)(nil)
