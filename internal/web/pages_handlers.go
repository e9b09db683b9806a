package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/auth"
	"github.com/sdingwan/kickOauthFlow/endpoint"
	"github.com/sdingwan/kickOauthFlow/kick"
)

type indexView struct {
	Scopes  string
	Warning *hostWarning
}

func (s *Server) index(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	if s.auth.IsAuthenticated(sess) {
		return &endpoint.RedirectRenderer{URL: "/me", Status: http.StatusFound}, nil
	}
	return renderPage(http.StatusOK, "index", page{
		Title: "Kick OAuth",
		Data:  indexView{Scopes: s.scopes(), Warning: s.hostMismatch(r)},
	}), nil
}

type meView struct {
	Name   string
	Avatar string
	UserID string
	Scopes string
	Pretty string
}

func (s *Server) me(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	bearer, ok, err := s.auth.Authorize(r.Context(), sess)
	if err != nil {
		return errorPage(auth.StatusCode(err), false, errorView{
			Heading: "Could not refresh your login",
			Message: "The identity provider did not accept the refresh. Log in again to continue.",
		}), nil
	}
	if !ok {
		return &endpoint.RedirectRenderer{URL: "/login", Status: http.StatusFound}, nil
	}

	user, err := s.kick.CurrentUser(r.Context(), bearer)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("user lookup failed")
		return errorPage(lookupStatus(err), true, failureView("Failed to fetch user info", err)), nil
	}
	return renderPage(http.StatusOK, "me", page{
		Title:    "Your Account",
		LoggedIn: true,
		Data: meView{
			Name:   user.DisplayName(),
			Avatar: user.ProfilePicture,
			UserID: user.Identifier().String(),
			Scopes: s.scopes(),
			Pretty: prettyJSON(user.Raw),
		},
	}), nil
}

// lookupStatus is the page status for a failed Kick call: 400 when Kick
// answered, 502 when it could not be reached.
func lookupStatus(err error) int {
	if kick.StatusOf(err) != 0 || errors.Is(err, kick.ErrNotFound) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func failureView(heading string, err error) errorView {
	var apiErr *kick.APIError
	if errors.As(err, &apiErr) {
		return errorView{Heading: heading, Message: http.StatusText(apiErr.Status), Detail: apiErr.Body}
	}
	return errorView{Heading: heading, Message: err.Error()}
}

type searchParams struct {
	Slug string `query:"slug" maxLength:"100"`
}

type lookupFailure struct {
	Status int
	Body   string
}

type searchView struct {
	Query   string
	Channel *kick.Channel
	Failure *lookupFailure
	Pretty  string
	KickURL string
	CanChat bool
}

func (s *Server) channelSearch(_ http.ResponseWriter, r *http.Request, p searchParams) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		return renderPage(http.StatusOK, "search", page{
			Title:    "Channel Search",
			LoggedIn: s.auth.IsAuthenticated(sess),
			Data:     searchView{},
		}), nil
	}

	bearer := s.optionalBearer(r, sess)
	view := searchView{Query: slug}
	ch, err := s.kick.ChannelBySlug(r.Context(), bearer, slug)
	var apiErr *kick.APIError
	switch {
	case err == nil:
		view.Channel = ch
		view.Pretty = prettyJSON(ch.Raw)
		view.KickURL = "https://kick.com/" + url.PathEscape(ch.DisplaySlug())
		view.CanChat = bearer != ""
	case errors.As(err, &apiErr):
		view.Failure = &lookupFailure{Status: apiErr.Status, Body: apiErr.Body}
	case errors.Is(err, kick.ErrNotFound):
	default:
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("slug", slug).Msg("channel lookup failed")
		view.Failure = &lookupFailure{Status: http.StatusBadGateway, Body: err.Error()}
	}
	return renderPage(http.StatusOK, "search", page{
		Title:    "Channel Lookup",
		LoggedIn: bearer != "",
		Slug:     slug,
		Data:     view,
	}), nil
}

type channelParams struct {
	Slug string `path:"slug"`
}

// channelRedirect maps /channels/{slug} onto the search page, keeping any
// other query parameters.
func (s *Server) channelRedirect(_ http.ResponseWriter, r *http.Request, p channelParams) (endpoint.Renderer, error) {
	q := r.URL.Query()
	q.Set("slug", p.Slug)
	return &endpoint.RedirectRenderer{URL: "/channels/search?" + q.Encode(), Status: http.StatusFound}, nil
}
