package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Phase is the progress of an authorization flow.
type Phase int

const (
	// PhaseIdle is outside any callback: login setup and refresh.
	PhaseIdle Phase = iota
	PhaseAwaitingCode
	PhaseExchanging
	PhaseAuthenticated
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingCode:
		return "awaiting_code"
	case PhaseExchanging:
		return "exchanging"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseRejected:
		return "rejected"
	}
	return "unknown"
}

// CallbackParams is the query the provider redirects back with.
type CallbackParams struct {
	Code             string `query:"code"`
	State            string `query:"state"`
	Error            string `query:"error"`
	ErrorDescription string `query:"error_description"`
}

// HandleCallback completes a flow. On success the token record is stored,
// the pending flow is removed, the session identifier is rotated (when the
// session supports it) and the browser is sent to the landing path.
//
// On any failure the pending flow is left as it was.
func (s *Service) HandleCallback(ctx context.Context, req Request, sess Session, params CallbackParams) (*Redirect, error) {
	if rd := s.guard.Check(req.Scheme, req.Host, req.URI); rd != nil {
		return rd, nil
	}
	logger := zerolog.Ctx(ctx)
	reject := func(e *Error) (*Redirect, error) {
		logger.Warn().Err(e).Stringer("phase", PhaseRejected).Stringer("at", e.Phase).Msg("authorization callback rejected")
		return nil, e
	}

	flow := loadFlow(sess)
	if flow == nil || !StatesEqual(params.State, flow.State) {
		detail := "state does not match the pending login"
		if params.State == "" {
			detail = "state parameter missing"
		}
		return reject(newError(ErrStateMismatch, PhaseAwaitingCode, detail, nil))
	}
	if params.Error != "" {
		cause := &ProviderError{Code: params.Error, Description: params.ErrorDescription}
		return reject(newError(ErrMissingCode, PhaseAwaitingCode, "", cause))
	}
	if params.Code == "" {
		return reject(newError(ErrMissingCode, PhaseAwaitingCode, "", nil))
	}
	if flow.Verifier == "" {
		return reject(newError(ErrStateMismatch, PhaseAwaitingCode, "no code verifier stored for this flow", nil))
	}

	logger.Debug().Stringer("phase", PhaseExchanging).Msg("exchanging authorization code")
	xctx, cancel := detach(ctx, ExchangeTimeout)
	defer cancel()
	tok, err := s.oauth.Exchange(s.clientContext(xctx), params.Code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return reject(upstreamError(xctx, ErrCodeExchange, PhaseExchanging, err))
	}

	if err := storeToken(sess, recordFromToken(tok, s.now(), "")); err != nil {
		return nil, err
	}
	sess.Delete(flowKey)
	if r, ok := sess.(renewer); ok {
		if err := r.Renew(); err != nil {
			return nil, err
		}
	}
	logger.Info().Stringer("phase", PhaseAuthenticated).Msg("login completed")
	return &Redirect{URL: s.cfg.LandingPath, Status: http.StatusFound}, nil
}
