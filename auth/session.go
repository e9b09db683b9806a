package auth

import (
	"errors"
	"fmt"

	"github.com/sdingwan/kickOauthFlow/middleware"
)

// Session keys.
const (
	flowKey  = "oauth.flow"
	tokenKey = "oauth.token"
)

// Session is the per-browser store the flow keeps its state in.
// middleware.Session satisfies it.
type Session interface {
	Get(key string, dest any) error
	Set(key string, value any) error
	Delete(key string)
	Clear()
}

// renewer is implemented by sessions that can rotate their identifier.
type renewer interface {
	Renew() error
}

// FlowState binds a pending authorization to the browser that started it.
type FlowState struct {
	State    string `cbor:"1,keysasint"`
	Verifier string `cbor:"2,keysasint"`
}

// loadFlow returns the pending flow, or nil if there is none or it cannot be
// decoded.
func loadFlow(sess Session) *FlowState {
	var f FlowState
	if err := sess.Get(flowKey, &f); err != nil {
		return nil
	}
	return &f
}

func storeFlow(sess Session, f FlowState) error {
	if err := sess.Set(flowKey, f); err != nil {
		return fmt.Errorf("store flow state: %w", err)
	}
	return nil
}

// loadToken returns the stored token record. An unreadable record is
// reported as an error so that callers can tell it from an absent one.
func loadToken(sess Session) (*TokenRecord, error) {
	var rec TokenRecord
	err := sess.Get(tokenKey, &rec)
	if errors.Is(err, middleware.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token record: %w", err)
	}
	return &rec, nil
}

func storeToken(sess Session, rec *TokenRecord) error {
	if err := sess.Set(tokenKey, rec); err != nil {
		return fmt.Errorf("store token record: %w", err)
	}
	return nil
}
