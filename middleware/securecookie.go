package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid session cookie format")
	ErrCookieInvalid = errors.New("invalid session cookie")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds how much of a client-supplied cookie value is decoded.
const maxCookieLen = 8192

// KeySize is the key length required by the default AEAD (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// Sealer seals and opens byte strings with a keyed AEAD.
//
// Sealed values have the form keyID "." base64url(nonce || ciphertext). All
// keys in Keys are accepted when opening; KeyID selects the sealing key, so
// a new key can be rolled in while old cookies stay readable.
type Sealer struct {
	KeyID   string
	Keys    map[string][]byte
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSealer validates the key set against newAEAD. A nil newAEAD selects
// XChaCha20-Poly1305.
func NewSealer(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Sealer, error) {
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not in key set", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCookieConfig, id, err)
		}
	}
	return &Sealer{KeyID: keyID, Keys: keys, NewAEAD: newAEAD}, nil
}

// Seal encrypts plain, binding it to aad.
func (s *Sealer) Seal(plain, aad []byte) (string, error) {
	if s == nil {
		return "", ErrCookieConfig
	}
	aead, err := s.NewAEAD(s.Keys[s.KeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return s.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering, unknown key or aad mismatch yields
// ErrCookieInvalid.
func (s *Sealer) Open(value string, aad []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrCookieConfig
	}
	if value == "" || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, payload, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || payload == "" {
		return nil, ErrCookieFormat
	}
	key, ok := s.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := s.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// SecureCookie turns values into sealed, CBOR-encoded cookies and back.
//
// The cookie's name, domain, path and Secure flag are sealed in as
// additional data, so a value lifted from one cookie does not open as
// another. Cookies are always HttpOnly.
type SecureCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	sealer  *Sealer
	newAEAD func([]byte) (cipher.AEAD, error)
}

// SecureCookieOption configures a SecureCookie.
type SecureCookieOption func(*SecureCookie)

// WithSecure sets the Secure attribute.
func WithSecure(secure bool) SecureCookieOption {
	return func(sc *SecureCookie) { sc.secure = secure }
}

// WithSameSite sets the SameSite attribute.
func WithSameSite(mode http.SameSite) SecureCookieOption {
	return func(sc *SecureCookie) { sc.sameSite = mode }
}

// WithPath sets the cookie path.
func WithPath(path string) SecureCookieOption {
	return func(sc *SecureCookie) { sc.path = path }
}

// WithDomain sets the cookie domain.
func WithDomain(domain string) SecureCookieOption {
	return func(sc *SecureCookie) { sc.domain = domain }
}

// WithAEAD replaces the default XChaCha20-Poly1305 construction.
func WithAEAD(newAEAD func([]byte) (cipher.AEAD, error)) SecureCookieOption {
	return func(sc *SecureCookie) { sc.newAEAD = newAEAD }
}

// NewSecureCookie builds a SecureCookie. Defaults: path "/", Secure,
// SameSite=Lax, no domain.
func NewSecureCookie(name, keyID string, keys map[string][]byte, opts ...SecureCookieOption) (*SecureCookie, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	sc := &SecureCookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.path == "" {
		sc.path = "/"
	}
	sealer, err := NewSealer(keyID, keys, sc.newAEAD)
	if err != nil {
		return nil, err
	}
	sc.sealer = sealer
	return sc, nil
}

// Name returns the cookie name.
func (sc *SecureCookie) Name() string {
	return sc.name
}

func (sc *SecureCookie) aad() []byte {
	secure := "f"
	if sc.secure {
		secure = "t"
	}
	return []byte(sc.name + ":" + sc.domain + ":" + sc.path + ":" + secure)
}

// Encode seals v into a cookie living maxAge seconds.
func (sc *SecureCookie) Encode(v any, maxAge int) (*http.Cookie, error) {
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	value, err := sc.sealer.Seal(plain, sc.aad())
	if err != nil {
		return nil, err
	}
	c := sc.base()
	c.Value = value
	c.MaxAge = maxAge
	c.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	return c, nil
}

// Decode opens c and unmarshals its payload into v.
func (sc *SecureCookie) Decode(c *http.Cookie, v any) error {
	if c == nil {
		return ErrCookieFormat
	}
	plain, err := sc.sealer.Open(c.Value, sc.aad())
	if err != nil {
		return err
	}
	return cbor.Unmarshal(plain, v)
}

// Clear returns a cookie that deletes this cookie in the browser.
func (sc *SecureCookie) Clear() *http.Cookie {
	c := sc.base()
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}

func (sc *SecureCookie) base() *http.Cookie {
	return &http.Cookie{
		Name:     sc.name,
		Path:     sc.path,
		Domain:   sc.domain,
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
	}
}
