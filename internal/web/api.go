package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sdingwan/kickOauthFlow/endpoint"
	"github.com/sdingwan/kickOauthFlow/kick"
)

// MaxChatLength bounds a chat message, in characters.
const MaxChatLength = 500

func jsonResponse(status int, v any) endpoint.Renderer {
	return &endpoint.JSONRenderer{Status: status, Value: v, NoStore: true}
}

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func jsonError(status int, format string, args ...any) endpoint.Renderer {
	return jsonResponse(status, apiError{Error: fmt.Sprintf(format, args...)})
}

// empty is the {} body the resolve endpoints answer failures with.
var empty = struct{}{}

type suggestParams struct {
	Q string `query:"q" maxLength:"100"`
}

type suggestion struct {
	Slug          string        `json:"slug"`
	BannerPicture string        `json:"banner_picture"`
	Stream        kick.Stream   `json:"stream"`
	Category      kick.Category `json:"category"`
}

type suggestResponse struct {
	Data []suggestion `json:"data"`
}

func (s *Server) suggest(_ http.ResponseWriter, r *http.Request, p suggestParams) (endpoint.Renderer, error) {
	out := suggestResponse{Data: []suggestion{}}
	q := strings.TrimSpace(p.Q)
	if q == "" {
		return jsonResponse(http.StatusOK, out), nil
	}
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	for _, ch := range s.kick.SearchChannels(r.Context(), s.optionalBearer(r, sess), q) {
		sg := suggestion{Slug: ch.DisplaySlug(), BannerPicture: ch.BannerPicture}
		if ch.Stream != nil {
			sg.Stream = *ch.Stream
		}
		if ch.Category != nil {
			sg.Category = *ch.Category
		}
		out.Data = append(out.Data, sg)
	}
	return jsonResponse(http.StatusOK, out), nil
}

type sendChatParams struct {
	Body []byte `body:"" maxLength:"8192"`
}

type sendChatRequest struct {
	Content string `json:"content"`
	Slug    string `json:"slug"`
}

type sendChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) sendChat(_ http.ResponseWriter, r *http.Request, p sendChatParams) (endpoint.Renderer, error) {
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	logger := zerolog.Ctx(r.Context())
	bearer, ok, err := s.auth.Authorize(r.Context(), sess)
	if err != nil {
		logger.Warn().Err(err).Msg("refresh before chat failed")
	}
	if !ok {
		return jsonError(http.StatusUnauthorized, "Unauthorized - please log in"), nil
	}

	if len(p.Body) == 0 {
		return jsonError(http.StatusBadRequest, "No data provided"), nil
	}
	var req sendChatRequest
	if err := json.Unmarshal(p.Body, &req); err != nil {
		return jsonError(http.StatusBadRequest, "Invalid JSON body"), nil
	}
	content := strings.TrimSpace(req.Content)
	slug := strings.TrimSpace(req.Slug)
	switch {
	case content == "":
		return jsonError(http.StatusBadRequest, "Message content is required"), nil
	case len([]rune(content)) > MaxChatLength:
		return jsonError(http.StatusBadRequest, "Message is longer than %d characters", MaxChatLength), nil
	case slug == "":
		return jsonError(http.StatusBadRequest, "Channel slug is required"), nil
	}

	ch, err := s.kick.ChannelBySlug(r.Context(), bearer, slug)
	var apiErr *kick.APIError
	switch {
	case errors.As(err, &apiErr):
		return jsonError(http.StatusBadRequest, "Failed to resolve channel: %d", apiErr.Status), nil
	case errors.Is(err, kick.ErrNotFound):
		return jsonError(http.StatusNotFound, "Channel not found"), nil
	case err != nil:
		logger.Warn().Err(err).Str("slug", slug).Msg("channel lookup failed")
		return jsonError(http.StatusBadGateway, "Failed to resolve channel"), nil
	}
	broadcaster := ch.BroadcasterID()
	if broadcaster == "" {
		return jsonError(http.StatusBadRequest, "Could not resolve broadcaster user ID"), nil
	}

	if err := s.kick.SendChatMessage(r.Context(), bearer, broadcaster, content); err != nil {
		if errors.As(err, &apiErr) {
			return jsonResponse(apiErr.Status, apiError{
				Error:   fmt.Sprintf("Send failed: %d", apiErr.Status),
				Details: apiErr.Body,
			}), nil
		}
		logger.Warn().Err(err).Msg("chat send failed")
		return jsonError(http.StatusBadGateway, "Send failed"), nil
	}
	logger.Info().Str("slug", slug).Str("broadcaster_user_id", broadcaster.String()).Msg("chat message sent")
	return jsonResponse(http.StatusOK, sendChatResponse{Success: true, Message: "Message sent successfully"}), nil
}

type slugParams struct {
	Slug string `query:"slug" maxLength:"100"`
}

type broadcasterResponse struct {
	BroadcasterUserID kick.FlexID `json:"broadcaster_user_id"`
}

func (s *Server) resolveBroadcaster(_ http.ResponseWriter, r *http.Request, p slugParams) (endpoint.Renderer, error) {
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		return jsonResponse(http.StatusBadRequest, empty), nil
	}
	sess, err := requestSession(r)
	if err != nil {
		return nil, err
	}
	ch, err := s.kick.ChannelBySlug(r.Context(), s.optionalBearer(r, sess), slug)
	if err != nil {
		if kick.StatusOf(err) != 0 || errors.Is(err, kick.ErrNotFound) {
			return jsonResponse(http.StatusNotFound, empty), nil
		}
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("slug", slug).Msg("broadcaster lookup failed")
		return jsonResponse(http.StatusInternalServerError, empty), nil
	}
	return jsonResponse(http.StatusOK, broadcasterResponse{BroadcasterUserID: ch.BroadcasterID()}), nil
}

type chatroomResponse struct {
	ChatroomID kick.FlexID `json:"chatroom_id"`
}

func (s *Server) resolveChatroom(_ http.ResponseWriter, r *http.Request, p slugParams) (endpoint.Renderer, error) {
	slug := strings.TrimSpace(p.Slug)
	if slug == "" {
		return jsonResponse(http.StatusBadRequest, empty), nil
	}
	id, err := s.kick.ChatroomID(r.Context(), slug)
	switch {
	case err == nil:
		return jsonResponse(http.StatusOK, chatroomResponse{ChatroomID: id}), nil
	case errors.Is(err, kick.ErrBlocked):
		return jsonError(http.StatusForbidden, "Blocked by security policy"), nil
	case errors.Is(err, kick.ErrForbidden):
		return jsonError(http.StatusForbidden, "Access forbidden"), nil
	case errors.Is(err, kick.ErrNotFound):
		return jsonError(http.StatusNotFound, "Channel not found"), nil
	case errors.Is(err, kick.ErrRateLimited):
		return jsonError(http.StatusTooManyRequests, "Rate limited"), nil
	case errors.Is(err, kick.ErrUnexpectedResponse):
		return jsonError(http.StatusBadRequest, "Unexpected API response structure"), nil
	}
	zerolog.Ctx(r.Context()).Warn().Err(err).Str("slug", slug).Msg("chatroom lookup failed")
	return jsonError(http.StatusInternalServerError, "%s", err.Error()), nil
}
