package auth

import "golang.org/x/oauth2"

// MethodS256 is the only PKCE challenge method this client uses.
const MethodS256 = "S256"

// PKCE is a code verifier and its derived S256 challenge.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE draws a fresh 32-byte verifier (43 base64url characters) and
// derives its challenge.
func NewPKCE() PKCE {
	v := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  v,
		Challenge: ChallengeS256(v),
		Method:    MethodS256,
	}
}

// ChallengeS256 returns base64url-nopad(SHA-256(verifier)).
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
