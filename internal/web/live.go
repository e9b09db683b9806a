package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sdingwan/kickOauthFlow/endpoint"
	"github.com/sdingwan/kickOauthFlow/middleware"
)

// Kick publishes chat events through a public Pusher app.
const (
	DefaultPusherKey     = "32cbd69e4b950bf97679"
	DefaultPusherCluster = "us2"

	pusherScript = "https://js.pusher.com/8.2.0/pusher.min.js"
)

// Pusher identifies the websocket app that carries chat events.
type Pusher struct {
	Key     string
	Cluster string
}

func (p Pusher) validate() error {
	for _, v := range []string{p.Key, p.Cluster} {
		if v == "" || strings.TrimLeft(v, "abcdefghijklmnopqrstuvwxyz0123456789-") != "" {
			return fmt.Errorf("web: invalid pusher setting %q", v)
		}
	}
	return nil
}

// csp extends the page policy with the Pusher script and socket origins.
func (p Pusher) csp() string {
	return "default-src 'self'; img-src 'self' https: data:; " +
		"script-src 'self' https://js.pusher.com; " +
		fmt.Sprintf("connect-src 'self' wss://ws-%[1]s.pusher.com https://sockjs-%[1]s.pusher.com; ", p.Cluster) +
		"base-uri 'self'; form-action 'self'; frame-ancestors 'none'"
}

func (p Pusher) headers() *middleware.SecurityHeadersProcessor {
	return middleware.NewSecurityHeadersProcessor(middleware.WithCSP(p.csp()))
}

type liveParams struct {
	Slug string `query:"slug" maxLength:"100"`
}

type liveView struct {
	Slug          string
	PusherKey     string
	PusherCluster string
	PusherScript  string
	CanChat       bool
}

// liveChat renders the chat viewer. The browser resolves the chatroom
// through /resolve/chatroom-id, subscribes to it on Pusher and sends through
// /send-chat.
func (s *Server) liveChat(_ http.ResponseWriter, r *http.Request, p liveParams) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	loggedIn := s.auth.IsAuthenticated(sess)
	slug := strings.TrimSpace(p.Slug)
	return renderPage(http.StatusOK, "live", page{
		Title:    "Live Chat",
		LoggedIn: loggedIn,
		Slug:     slug,
		Data: liveView{
			Slug:          slug,
			PusherKey:     s.pusher.Key,
			PusherCluster: s.pusher.Cluster,
			PusherScript:  pusherScript,
			CanChat:       loggedIn,
		},
	}), nil
}
