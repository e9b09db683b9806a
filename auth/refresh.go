package auth

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// RefreshIfNeeded renews the stored token when it is expired and a refresh
// token is available. It does nothing for a usable token or when there is no
// refresh token. On failure the stored record is left untouched, so the next
// request tries again.
func (s *Service) RefreshIfNeeded(ctx context.Context, sess Session) error {
	rec, err := loadToken(sess)
	if err != nil {
		return err
	}
	if rec == nil || !IsExpired(rec, s.now()) || rec.RefreshToken == "" {
		return nil
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().Time("expires_at", rec.ExpiresAt).Msg("refreshing access token")

	rctx, cancel := detach(ctx, RefreshTimeout)
	defer cancel()
	src := s.oauth.TokenSource(s.clientContext(rctx), &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		e := upstreamError(rctx, ErrRefresh, PhaseIdle, err)
		logger.Warn().Err(e).Int("provider_status", e.ProviderStatus).Msg("token refresh failed")
		return e
	}
	return storeToken(sess, recordFromToken(tok, s.now(), rec.RefreshToken))
}
