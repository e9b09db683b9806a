package kick

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKick struct {
	*httptest.Server
	mux  *http.ServeMux
	hits map[string]*atomic.Int32
}

func newFakeKick(t *testing.T) *fakeKick {
	t.Helper()
	f := &fakeKick{mux: http.NewServeMux(), hits: map[string]*atomic.Int32{}}
	f.Server = httptest.NewServer(f.mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeKick) handle(pattern string, h http.HandlerFunc) {
	n := &atomic.Int32{}
	f.hits[pattern] = n
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		h(w, r)
	})
}

func (f *fakeKick) count(pattern string) int {
	return int(f.hits[pattern].Load())
}

func (f *fakeKick) client() *Client {
	return NewClient(WithAPIURL(f.URL+"/public/v1"), WithSiteURL(f.URL+"/api/v2"))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestCurrentUser(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   FlexID
		wantName string
	}{
		{"list", `{"data":[{"user_id":42,"name":"alice","profile_picture":"https://img/a.png"}]}`, "42", "alice"},
		{"object", `{"data":{"id":"7","username":"bob"}}`, "7", "bob"},
		{"no names", `{"data":[{"user_id":1}]}`, "1", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeKick(t)
			f.handle("GET /public/v1/users", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				writeJSON(w, http.StatusOK, tt.body)
			})
			u, err := f.client().CurrentUser(context.Background(), "Bearer tok")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, u.Identifier())
			assert.Equal(t, tt.wantName, u.DisplayName())
			assert.NotEmpty(t, u.Raw)
		})
	}
}

func TestCurrentUser_Errors(t *testing.T) {
	f := newFakeKick(t)
	f.handle("GET /public/v1/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"message":"Unauthenticated"}`)
	})
	_, err := f.client().CurrentUser(context.Background(), "Bearer bad")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Body, "Unauthenticated")

	f2 := newFakeKick(t)
	f2.handle("GET /public/v1/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	})
	_, err = f2.client().CurrentUser(context.Background(), "Bearer tok")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChannelBySlug_Cached(t *testing.T) {
	f := newFakeKick(t)
	f.handle("GET /public/v1/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "xqc", r.URL.Query().Get("slug"))
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"data":[{"slug":"xqc","broadcaster_user_id":676,"stream":{"is_live":true,"viewer_count":12},"category":{"name":"Just Chatting"}}]}`)
	})
	c := f.client()

	ch, err := c.ChannelBySlug(context.Background(), "", "xqc")
	require.NoError(t, err)
	assert.Equal(t, "xqc", ch.Slug)
	assert.Equal(t, FlexID("676"), ch.BroadcasterID())
	require.NotNil(t, ch.Stream)
	assert.True(t, ch.Stream.IsLive)
	require.NotNil(t, ch.Stream.ViewerCount)
	assert.Equal(t, 12, *ch.Stream.ViewerCount)
	assert.Equal(t, "Just Chatting", ch.Category.Name)

	_, err = c.ChannelBySlug(context.Background(), "", "XQC")
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("GET /public/v1/channels"))
}

func TestChannelBySlug_NotFoundIsNotCached(t *testing.T) {
	f := newFakeKick(t)
	f.handle("GET /public/v1/channels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	})
	c := f.client()
	for i := 0; i < 2; i++ {
		_, err := c.ChannelBySlug(context.Background(), "", "nobody")
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, f.count("GET /public/v1/channels"))
}

func TestBroadcasterIDFallbacks(t *testing.T) {
	tests := []struct {
		body string
		want FlexID
	}{
		{`{"broadcaster_user_id":1,"user_id":2,"id":3}`, "1"},
		{`{"user_id":2,"id":3}`, "2"},
		{`{"id":"3"}`, "3"},
		{`{"user":{"id":4}}`, "4"},
		{`{"slug":"x"}`, ""},
	}
	for _, tt := range tests {
		var ch Channel
		require.NoError(t, json.Unmarshal([]byte(tt.body), &ch))
		assert.Equal(t, tt.want, ch.BroadcasterID(), tt.body)
	}
}

func TestSearchChannels(t *testing.T) {
	f := newFakeKick(t)
	f.handle("GET /public/v1/channels/search", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("query") {
		case "xq":
			writeJSON(w, http.StatusOK, `{"data":[{"slug":"xqc"},{"username":"xqcow"},"junk"]}`)
		case "alt":
			writeJSON(w, http.StatusOK, `{"channels":[{"slug":"alternative"}]}`)
		default:
			writeJSON(w, http.StatusNotFound, `{}`)
		}
	})
	f.handle("GET /public/v1/channels", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") == "exact" {
			writeJSON(w, http.StatusOK, `{"data":{"slug":"exact"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	})
	c := f.client()
	ctx := context.Background()

	got := c.SearchChannels(ctx, "", "xq")
	require.Len(t, got, 2)
	assert.Equal(t, "xqc", got[0].DisplaySlug())
	assert.Equal(t, "xqcow", got[1].DisplaySlug())

	got = c.SearchChannels(ctx, "", "alt")
	require.Len(t, got, 1)
	assert.Equal(t, "alternative", got[0].Slug)

	got = c.SearchChannels(ctx, "", "exact")
	require.Len(t, got, 1)
	assert.Equal(t, "exact", got[0].Slug)

	assert.Empty(t, c.SearchChannels(ctx, "", "missing"))
	assert.Empty(t, c.SearchChannels(ctx, "", "   "))

	before := f.count("GET /public/v1/channels")
	assert.Empty(t, c.SearchChannels(ctx, "", "z"))
	assert.Equal(t, before, f.count("GET /public/v1/channels"), "single character queries skip the slug fallback")
}

func TestSendChatMessage(t *testing.T) {
	f := newFakeKick(t)
	var got map[string]any
	f.handle("POST /public/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, `{"data":{"is_sent":true}}`)
	})

	require.NoError(t, f.client().SendChatMessage(context.Background(), "Bearer tok", "676", "hello"))
	assert.Equal(t, "user", got["type"])
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, float64(676), got["broadcaster_user_id"])
}

func TestSendChatMessage_Rejected(t *testing.T) {
	f := newFakeKick(t)
	f.handle("POST /public/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"message":"missing scope"}`)
	})
	err := f.client().SendChatMessage(context.Background(), "Bearer tok", "676", "hello")
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, http.StatusForbidden, StatusOf(err))
}

func TestChatroomID(t *testing.T) {
	f := newFakeKick(t)
	f.handle("GET /api/v2/channels/{slug}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://kick.com/", r.Header.Get("Referer"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		switch r.PathValue("slug") {
		case "ok":
			writeJSON(w, http.StatusOK, `{"user":{"id":1},"chatroom":{"id":98765}}`)
		case "odd":
			writeJSON(w, http.StatusOK, `{"chatroom":{"id":1}}`)
		case "blocked":
			writeJSON(w, http.StatusForbidden, `{"error":"Request blocked by Security Policy"}`)
		case "forbidden":
			writeJSON(w, http.StatusForbidden, ``)
		case "busy":
			writeJSON(w, http.StatusTooManyRequests, ``)
		default:
			writeJSON(w, http.StatusNotFound, `{}`)
		}
	})
	c := f.client()
	ctx := context.Background()

	id, err := c.ChatroomID(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, FlexID("98765"), id)

	_, err = c.ChatroomID(ctx, "odd")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	_, err = c.ChatroomID(ctx, "blocked")
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = c.ChatroomID(ctx, "forbidden")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = c.ChatroomID(ctx, "busy")
	assert.ErrorIs(t, err, ErrRateLimited)
	_, err = c.ChatroomID(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlexID(t *testing.T) {
	var v struct {
		A FlexID `json:"a"`
		B FlexID `json:"b"`
		C FlexID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":123,"b":"abc","c":null}`), &v))
	assert.Equal(t, FlexID("123"), v.A)
	assert.Equal(t, FlexID("abc"), v.B)
	assert.Equal(t, FlexID(""), v.C)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":123,"b":"abc","c":null}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}
