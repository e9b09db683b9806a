package middleware

import (
	"net/http"
	"strconv"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

// DefaultPageCSP lets pages load their own scripts and styles, and channel
// artwork from any https origin.
const DefaultPageCSP = "default-src 'self'; img-src 'self' https: data:; " +
	"base-uri 'self'; form-action 'self'; frame-ancestors 'none'"

// DefaultAPICSP is for JSON responses, which never load anything.
const DefaultAPICSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeadersProcessor sets browser hardening headers on every response.
//
// Empty string fields are not sent. HSTS is only sent on requests that
// arrived over https (directly or per ForwardedProcessor), since browsers
// ignore it on plain http and localhost development runs over http.
type SecurityHeadersProcessor struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds. 0
	// disables the header.
	HSTSMaxAge            int
	ReferrerPolicy        string
	FrameOptions          string
	ContentSecurityPolicy string
	OpenerPolicy          string
	NoSniff               bool
}

// SecurityHeadersOption configures a SecurityHeadersProcessor.
type SecurityHeadersOption func(*SecurityHeadersProcessor)

// WithHSTS sets the HSTS max-age; 0 disables it.
func WithHSTS(maxAge int) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.HSTSMaxAge = maxAge }
}

// WithCSP replaces the Content-Security-Policy.
func WithCSP(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.ContentSecurityPolicy = policy }
}

// WithReferrerPolicy replaces the Referrer-Policy.
func WithReferrerPolicy(policy string) SecurityHeadersOption {
	return func(p *SecurityHeadersProcessor) { p.ReferrerPolicy = policy }
}

// NewSecurityHeadersProcessor returns the profile used for HTML pages.
func NewSecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := &SecurityHeadersProcessor{
		HSTSMaxAge:            31536000,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FrameOptions:          "DENY",
		ContentSecurityPolicy: DefaultPageCSP,
		OpenerPolicy:          "same-origin",
		NoSniff:               true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAPISecurityHeadersProcessor returns the profile used for JSON endpoints.
func NewAPISecurityHeadersProcessor(opts ...SecurityHeadersOption) *SecurityHeadersProcessor {
	p := NewSecurityHeadersProcessor(WithCSP(DefaultAPICSP), WithReferrerPolicy("no-referrer"))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *SecurityHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 && RequestScheme(r) == "https" {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge)+"; includeSubDomains")
	}
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set("Referrer-Policy", p.ReferrerPolicy)
	set("X-Frame-Options", p.FrameOptions)
	set("Content-Security-Policy", p.ContentSecurityPolicy)
	set("Cross-Origin-Opener-Policy", p.OpenerPolicy)
	if p.NoSniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	return next(w, r)
}

var _ endpoint.Processor = (*SecurityHeadersProcessor)(nil)
