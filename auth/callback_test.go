package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackURI = "/callback?code=the-code&state=s"

var callbackRequest = Request{Scheme: "http", Host: "localhost:8080", URI: callbackURI}

func startFlow(t *testing.T, svc *Service, sess *memSession) FlowState {
	t.Helper()
	_, err := svc.StartLogin(context.Background(), localRequest, sess)
	require.NoError(t, err)
	return sess.flow(t)
}

func TestHandleCallback_Success(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"A","refresh_token":"R","token_type":"Bearer","expires_in":120}`)
	svc := newTestService(t, testConfig(ts.URL))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	rd, err := svc.HandleCallback(context.Background(), callbackRequest, sess, CallbackParams{Code: "the-code", State: flow.State})
	require.NoError(t, err)
	assert.Equal(t, "/me", rd.URL)
	assert.Equal(t, http.StatusFound, rd.Status)

	rec := sess.token(t)
	assert.Equal(t, "A", rec.AccessToken)
	assert.Equal(t, "R", rec.RefreshToken)
	assert.Equal(t, "Bearer", rec.TokenType)
	assert.WithinDuration(t, testNow.Add(120*time.Second), rec.ExpiresAt, time.Second)
	assert.False(t, sess.has(flowKey), "flow state must be cleared")
	assert.Equal(t, 1, sess.renewed)

	calls := ts.calls()
	require.Len(t, calls, 1)
	form := calls[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, flow.Verifier, form.Get("code_verifier"))
	assert.Equal(t, testRedirectURL, form.Get("redirect_uri"))
	assert.Equal(t, "client-123", form.Get("client_id"))
	assert.Equal(t, "secret-456", form.Get("client_secret"))
}

func TestHandleCallback_StateMismatch(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"A","expires_in":120}`)
	svc := newTestService(t, testConfig(ts.URL))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	for _, state := range []string{"", "not-the-state", flow.State + "x"} {
		_, err := svc.HandleCallback(context.Background(), callbackRequest, sess, CallbackParams{Code: "c", State: state})
		require.ErrorIs(t, err, ErrStateMismatch, "state %q", state)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))

		var ae *Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, PhaseAwaitingCode, ae.Phase)
	}
	assert.False(t, sess.has(tokenKey), "token record must stay absent")
	assert.Equal(t, flow, sess.flow(t), "flow state must stay untouched")
	assert.Empty(t, ts.calls())
}

func TestHandleCallback_NoFlow(t *testing.T) {
	svc := newTestService(t, testConfig("http://token.invalid/token"))
	_, err := svc.HandleCallback(context.Background(), callbackRequest, newMemSession(), CallbackParams{Code: "c", State: "s"})
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestHandleCallback_Replay(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"A","expires_in":120}`)
	svc := newTestService(t, testConfig(ts.URL))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)
	params := CallbackParams{Code: "c", State: flow.State}

	_, err := svc.HandleCallback(context.Background(), callbackRequest, sess, params)
	require.NoError(t, err)
	_, err = svc.HandleCallback(context.Background(), callbackRequest, sess, params)
	require.ErrorIs(t, err, ErrStateMismatch)
	assert.Len(t, ts.calls(), 1)
}

func TestHandleCallback_MissingVerifier(t *testing.T) {
	svc := newTestService(t, testConfig("http://token.invalid/token"))
	sess := newMemSession()
	require.NoError(t, storeFlow(sess, FlowState{State: "s"}))

	_, err := svc.HandleCallback(context.Background(), callbackRequest, sess, CallbackParams{Code: "c", State: "s"})
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestHandleCallback_MissingCode(t *testing.T) {
	svc := newTestService(t, testConfig("http://token.invalid/token"))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	_, err := svc.HandleCallback(context.Background(), callbackRequest, sess, CallbackParams{State: flow.State})
	require.ErrorIs(t, err, ErrMissingCode)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.True(t, sess.has(flowKey))
}

func TestHandleCallback_ProviderError(t *testing.T) {
	svc := newTestService(t, testConfig("http://token.invalid/token"))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	_, err := svc.HandleCallback(context.Background(), callbackRequest, sess,
		CallbackParams{State: flow.State, Error: "access_denied", ErrorDescription: "denied"})
	require.ErrorIs(t, err, ErrMissingCode)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "access_denied", pe.Code)
}

func TestHandleCallback_ExchangeRejected(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	svc := newTestService(t, testConfig(ts.URL))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	_, err := svc.HandleCallback(context.Background(), callbackRequest, sess, CallbackParams{Code: "c", State: flow.State})
	require.ErrorIs(t, err, ErrCodeExchange)
	assert.NotErrorIs(t, err, ErrUpstreamTimeout)

	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.Status)
	assert.Equal(t, http.StatusBadRequest, ae.ProviderStatus)
	assert.Contains(t, ae.ProviderBody, "invalid_grant")
	assert.Equal(t, PhaseExchanging, ae.Phase)
	assert.False(t, sess.has(tokenKey))
	assert.True(t, sess.has(flowKey))
	assert.Len(t, ts.calls(), 1, "no retry")
}

func TestHandleCallback_ExchangeTimeout(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"A","expires_in":120}`)
	ts.delay = 2 * time.Second
	cfg := testConfig(ts.URL)
	cfg.HTTPClient = &http.Client{Timeout: 50 * time.Millisecond}
	svc := newTestService(t, cfg)
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	_, err := svc.HandleCallback(context.Background(), callbackRequest, sess, CallbackParams{Code: "c", State: flow.State})
	require.ErrorIs(t, err, ErrCodeExchange)
	require.ErrorIs(t, err, ErrUpstreamTimeout)
	assert.False(t, sess.has(tokenKey))
}

func TestHandleCallback_IgnoresClientCancellation(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"A","expires_in":120}`)
	svc := newTestService(t, testConfig(ts.URL))
	sess := newMemSession()
	flow := startFlow(t, svc, sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.HandleCallback(ctx, callbackRequest, sess, CallbackParams{Code: "c", State: flow.State})
	require.NoError(t, err)
	assert.Equal(t, "A", sess.token(t).AccessToken)
}

func TestHandleCallback_HostGuard(t *testing.T) {
	svc := newTestService(t, testConfig("http://token.invalid/token"))
	sess := newMemSession()
	rd, err := svc.HandleCallback(context.Background(),
		Request{Scheme: "http", Host: "127.0.0.1:8080", URI: callbackURI}, sess, CallbackParams{Code: "c", State: "s"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080"+callbackURI, rd.URL)
}
