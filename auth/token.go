package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// ExpirySkew is how long before its recorded expiry a token is already
// treated as expired.
const ExpirySkew = 30 * time.Second

// TokenRecord is the token material kept in the session.
type TokenRecord struct {
	AccessToken  string    `cbor:"1,keysasint"`
	RefreshToken string    `cbor:"2,keysasint,omitempty"`
	TokenType    string    `cbor:"3,keysasint"`
	ExpiresAt    time.Time `cbor:"4,keysasint"`
}

// IsExpired reports whether rec is unusable at now: absent, without an access
// token, or within ExpirySkew of ExpiresAt.
func IsExpired(rec *TokenRecord, now time.Time) bool {
	if rec == nil || rec.AccessToken == "" {
		return true
	}
	return !now.Before(rec.ExpiresAt.Add(-ExpirySkew))
}

// recordFromToken converts a token endpoint response received at now.
// A response without expires_in is recorded as already expired. A refresh
// response that does not reissue the refresh token keeps prevRefresh.
func recordFromToken(tok *oauth2.Token, now time.Time, prevRefresh string) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    now.Truncate(time.Second),
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = prevRefresh
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	switch {
	case tok.ExpiresIn > 0:
		rec.ExpiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second).Truncate(time.Second)
	case !tok.Expiry.IsZero():
		rec.ExpiresAt = tok.Expiry.Truncate(time.Second)
	}
	return rec
}
