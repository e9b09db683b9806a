// Package config loads the server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"

	"github.com/sdingwan/kickOauthFlow/auth"
	"github.com/sdingwan/kickOauthFlow/kick"
)

// DefaultEnvFile is read when no env file is named. It may be absent.
const DefaultEnvFile = ".env"

// sessionKeyInfo separates the session key from any other key derived from
// the same secret.
const sessionKeyInfo = "kickoauth session cookie v1"

const minSecretLen = 32

// ErrMissingSettings is returned by Validate when required OAuth settings are
// empty.
var ErrMissingSettings = errors.New("missing required settings")

// Config holds every setting of the server.
type Config struct {
	ClientID     string `env:"KICK_CLIENT_ID" env-description:"OAuth client id"`
	ClientSecret string `env:"KICK_CLIENT_SECRET" env-description:"OAuth client secret"`
	RedirectURI  string `env:"KICK_REDIRECT_URI" env-description:"OAuth redirect URI, e.g. http://localhost:8080/callback"`
	Scopes       string `env:"KICK_SCOPES" env-default:"user:read" env-description:"space separated OAuth scopes"`

	AuthorizeURL string `env:"KICK_AUTHORIZE_URL" env-default:"https://id.kick.com/oauth/authorize"`
	TokenURL     string `env:"KICK_TOKEN_URL" env-default:"https://id.kick.com/oauth/token"`
	APIURL       string `env:"KICK_API_URL" env-default:"https://api.kick.com/public/v1"`
	SiteURL      string `env:"KICK_SITE_URL" env-default:"https://kick.com/api/v2"`

	PusherKey     string `env:"KICK_PUSHER_KEY" env-default:"32cbd69e4b950bf97679" env-description:"public Pusher app key of Kick chat"`
	PusherCluster string `env:"KICK_PUSHER_CLUSTER" env-default:"us2"`

	SessionSecret string `env:"SESSION_SECRET" env-description:"32 byte key (hex or base64) or a passphrase of at least 32 characters; random per process when empty"`

	ListenAddr      string        `env:"LISTEN_ADDR" env-default:":8080"`
	TrustProxy      bool          `env:"TRUST_PROXY" env-default:"false" env-description:"honour X-Forwarded-* headers from a reverse proxy"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"console" env-description:"console or json"`
}

// Load reads envFile into the process environment (without overriding
// variables already set) and then the environment into a Config. An empty
// envFile means DefaultEnvFile, which is skipped when it does not exist.
func Load(envFile string) (*Config, error) {
	optional := envFile == ""
	if optional {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Usage writes the list of recognised environment variables to w.
func Usage(w io.Writer) error {
	header := "Environment variables:"
	text, err := cleanenv.GetDescription(&Config{}, &header)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

// ScopeList splits Scopes on whitespace.
func (c *Config) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// AuthConfig returns the OAuth client settings.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.ScopeList(),
		AuthorizeURL: c.AuthorizeURL,
		TokenURL:     c.TokenURL,
	}
}

// KickOptions returns the options for the Kick API client.
func (c *Config) KickOptions() []kick.Option {
	return []kick.Option{kick.WithAPIURL(c.APIURL), kick.WithSiteURL(c.SiteURL)}
}

// SecureCookies reports whether cookies should carry the Secure flag: only
// when the redirect URI is https.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.RedirectURI), "https:")
}

// SessionKey returns the 32 byte session cookie key. A hex or base64 encoded
// 32 byte secret is used as is; any other secret of at least 32 characters is
// run through HKDF-SHA256. When no secret is configured a random key is
// returned with generated set, and sessions do not survive a restart.
func (c *Config) SessionKey() (key []byte, generated bool, err error) {
	secret := strings.TrimSpace(c.SessionSecret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, false, err
		}
		return key, true, nil
	}
	if b, err := hex.DecodeString(secret); err == nil && len(b) == 32 {
		return b, false, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(secret); err == nil && len(b) == 32 {
			return b, false, nil
		}
	}
	if len(secret) < minSecretLen {
		return nil, false, fmt.Errorf("config: SESSION_SECRET must be 32 bytes in hex or base64, or at least %d characters", minSecretLen)
	}
	key = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sessionKeyInfo)), key); err != nil {
		return nil, false, err
	}
	return key, false, nil
}

// Validate checks that the OAuth client is fully configured and that the
// remaining settings parse.
func (c *Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "KICK_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "KICK_CLIENT_SECRET")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "KICK_REDIRECT_URI")
	}
	if len(c.ScopeList()) == 0 {
		missing = append(missing, "KICK_SCOPES")
	}
	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSettings, strings.Join(missing, ", ")))
	}
	if c.RedirectURI != "" {
		if _, err := auth.NewHostGuard(c.RedirectURI); err != nil {
			errs = append(errs, fmt.Errorf("KICK_REDIRECT_URI: %w", err))
		}
	}
	endpoints := []struct{ name, raw string }{
		{"KICK_AUTHORIZE_URL", c.AuthorizeURL},
		{"KICK_TOKEN_URL", c.TokenURL},
		{"KICK_API_URL", c.APIURL},
		{"KICK_SITE_URL", c.SiteURL},
	}
	for _, e := range endpoints {
		if u, err := url.Parse(e.raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: %q is not an absolute URL", e.name, e.raw))
		}
	}
	if _, _, err := c.SessionKey(); err != nil {
		errs = append(errs, err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: %q is not console or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the root logger writing to w. An unparsable level falls back
// to info and is reported in the returned error.
func (c *Config) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), err
}
