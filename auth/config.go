package auth

import "net/http"

// Kick identity provider endpoints.
const (
	DefaultAuthorizeURL = "https://id.kick.com/oauth/authorize"
	DefaultTokenURL     = "https://id.kick.com/oauth/token"
)

// DefaultLandingPath is where a completed login is sent.
const DefaultLandingPath = "/me"

// Config is the OAuth client registration plus endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthorizeURL string
	TokenURL     string
	LandingPath  string

	// HTTPClient is used for token endpoint calls. nil selects
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Missing lists the required settings that are empty.
func (c Config) Missing() []string {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if c.RedirectURL == "" {
		missing = append(missing, "redirect uri")
	}
	if len(c.Scopes) == 0 {
		missing = append(missing, "scopes")
	}
	return missing
}

func (c Config) withDefaults() Config {
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = DefaultAuthorizeURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.LandingPath == "" {
		c.LandingPath = DefaultLandingPath
	}
	return c
}
