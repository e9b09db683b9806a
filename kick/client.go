// Package kick is a small client for the Kick public API and the channel
// endpoint of the Kick site.
//
// Calls that act for a user take the Authorization header value (for example
// "Bearer abc") as an argument. An empty value sends the request anonymously.
package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// Base URLs.
const (
	DefaultAPIURL  = "https://api.kick.com/public/v1"
	DefaultSiteURL = "https://kick.com/api/v2"
)

// Per-call bounds.
const (
	LookupTimeout   = 15 * time.Second
	SearchTimeout   = 10 * time.Second
	ChatTimeout     = 15 * time.Second
	ChatroomTimeout = 10 * time.Second
)

// DefaultCacheTTL is how long a channel lookup by slug is reused.
const DefaultCacheTTL = 30 * time.Second

const (
	maxResponseBytes = 1 << 20
	channelCacheSize = 1024
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// Client talks to Kick. It is safe for concurrent use.
type Client struct {
	apiURL     string
	siteURL    string
	httpClient *http.Client
	channels   *ttlcache.Cache[string, *Channel]
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	apiURL     string
	siteURL    string
	httpClient *http.Client
	cacheTTL   time.Duration
}

// WithAPIURL overrides the public API base URL.
func WithAPIURL(u string) Option {
	return func(c *clientConfig) { c.apiURL = u }
}

// WithSiteURL overrides the site API base URL used for chatroom lookups.
func WithSiteURL(u string) Option {
	return func(c *clientConfig) { c.siteURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithCacheTTL sets how long channel lookups are cached.
func WithCacheTTL(d time.Duration) Option {
	return func(c *clientConfig) { c.cacheTTL = d }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	cfg := clientConfig{
		apiURL:     DefaultAPIURL,
		siteURL:    DefaultSiteURL,
		httpClient: http.DefaultClient,
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Expired entries are dropped on read and by capacity eviction, so the
	// cache runs without its cleanup goroutine.
	cache := ttlcache.New[string, *Channel](
		ttlcache.WithTTL[string, *Channel](cfg.cacheTTL),
		ttlcache.WithCapacity[string, *Channel](channelCacheSize),
		ttlcache.WithDisableTouchOnHit[string, *Channel](),
	)
	return &Client{
		apiURL:     strings.TrimRight(cfg.apiURL, "/"),
		siteURL:    strings.TrimRight(cfg.siteURL, "/"),
		httpClient: cfg.httpClient,
		channels:   cache,
	}
}

// CurrentUser returns the user the bearer token belongs to.
func (c *Client) CurrentUser(ctx context.Context, bearer string) (*User, error) {
	body, err := c.getJSON(ctx, LookupTimeout, c.apiURL+"/users", bearer, nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(body)
}

// ChannelBySlug looks up a channel. A response without a channel is
// ErrNotFound. Found channels are cached by slug.
func (c *Client) ChannelBySlug(ctx context.Context, bearer, slug string) (*Channel, error) {
	return c.channelBySlug(ctx, LookupTimeout, bearer, slug)
}

func (c *Client) channelBySlug(ctx context.Context, timeout time.Duration, bearer, slug string) (*Channel, error) {
	key := strings.ToLower(slug)
	if item := c.channels.Get(key); item != nil {
		return item.Value(), nil
	}

	body, err := c.getJSON(ctx, timeout, c.apiURL+"/channels", bearer, url.Values{"slug": {slug}})
	if err != nil {
		return nil, err
	}
	channels, err := decodeChannels(body)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, ErrNotFound
	}
	ch := &channels[0]
	c.channels.Set(key, ch, ttlcache.DefaultTTL)
	return ch, nil
}

// SearchChannels returns channels matching q for autocomplete. When the
// search endpoint yields nothing and q has at least two characters, an exact
// slug lookup is tried instead. Lookup failures yield no results.
func (c *Client) SearchChannels(ctx context.Context, bearer, q string) []Channel {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	var found []Channel
	body, err := c.getJSON(ctx, SearchTimeout, c.apiURL+"/channels/search", bearer, url.Values{"query": {q}})
	if err == nil {
		found, err = decodeChannels(body)
	}
	if err != nil {
		logger.Debug().Err(err).Str("query", q).Msg("channel search failed")
	}
	if len(found) > 0 || len([]rune(q)) < 2 {
		return found
	}

	ch, err := c.channelBySlug(ctx, SearchTimeout, bearer, q)
	if err != nil {
		logger.Debug().Err(err).Str("slug", q).Msg("channel slug fallback failed")
		return nil
	}
	return []Channel{*ch}
}

type chatMessage struct {
	Type              string `json:"type"`
	Content           string `json:"content"`
	BroadcasterUserID FlexID `json:"broadcaster_user_id"`
}

// SendChatMessage posts content to the chat of broadcasterID as the user.
func (c *Client) SendChatMessage(ctx context.Context, bearer string, broadcasterID FlexID, content string) error {
	payload, err := json.Marshal(chatMessage{Type: "user", Content: content, BroadcasterUserID: broadcasterID})
	if err != nil {
		return err
	}
	ctx, cancel := detach(ctx, ChatTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	_, err = c.do(req)
	return err
}

// ChatroomID resolves the chatroom of a channel through the site API, which
// serves browsers only.
func (c *Client) ChatroomID(ctx context.Context, slug string) (FlexID, error) {
	ctx, cancel := detach(ctx, ChatroomTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.siteURL+"/channels/"+url.PathEscape(slug), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var payload struct {
		Chatroom *struct {
			ID FlexID `json:"id"`
		} `json:"chatroom"`
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("kick: decode channel: %w", err)
	}
	if payload.Chatroom == nil || payload.Chatroom.ID == "" || len(payload.User) == 0 {
		return "", ErrUnexpectedResponse
	}
	return payload.Chatroom.ID, nil
}

func (c *Client) getJSON(ctx context.Context, timeout time.Duration, endpoint, bearer string, query url.Values) ([]byte, error) {
	ctx, cancel := detach(ctx, timeout)
	defer cancel()
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	return c.do(req)
}

// do sends req and returns the body of a 2xx response, or an *APIError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kick: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("kick: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// detach bounds an outbound call without tying it to the client connection.
func detach(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
