package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

// ForwardedProcessor applies X-Forwarded-Proto, X-Forwarded-Host and
// X-Forwarded-For from a single trusted reverse proxy, so that downstream
// code sees the host and scheme the browser actually used.
//
// With Trust false the headers are ignored. Only the right-most value of
// each header is used: it is the one appended by the proxy in front of us.
type ForwardedProcessor struct {
	Trust bool
}

// Process implements endpoint.Processor.
func (p ForwardedProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if !p.Trust {
		return next(w, r)
	}
	r2 := r.Clone(r.Context())
	if proto := lastHeaderValue(r, "X-Forwarded-Proto"); proto == "http" || proto == "https" {
		r2.URL.Scheme = proto
	}
	if host := lastHeaderValue(r, "X-Forwarded-Host"); host != "" {
		r2.Host = host
		r2.URL.Host = host
	}
	if ip := lastHeaderValue(r, "X-Forwarded-For"); net.ParseIP(ip) != nil {
		r2.RemoteAddr = net.JoinHostPort(ip, "0")
	}
	*r = *r2
	return next(w, r)
}

func lastHeaderValue(r *http.Request, key string) string {
	vs := r.Header.Values(key)
	if len(vs) == 0 {
		return ""
	}
	parts := strings.Split(vs[len(vs)-1], ",")
	return strings.ToLower(strings.TrimSpace(parts[len(parts)-1]))
}

// RequestScheme returns "https" for TLS requests or requests marked https by
// ForwardedProcessor, else "http".
func RequestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if r.URL != nil && r.URL.Scheme == "https" {
		return "https"
	}
	return "http"
}

var _ endpoint.Processor = ForwardedProcessor{}
