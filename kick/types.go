package kick

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexID is an identifier the API sends either as a JSON number or a string.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("kick: id: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers.
func (id FlexID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id FlexID) String() string {
	return string(id)
}

// User is the authenticated account returned by the users endpoint.
type User struct {
	UserID         FlexID `json:"user_id"`
	ID             FlexID `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profile_picture"`

	// Raw is the user object as received.
	Raw json.RawMessage `json:"-"`
}

// Identifier returns user_id, falling back to id.
func (u *User) Identifier() FlexID {
	if u.UserID != "" {
		return u.UserID
	}
	return u.ID
}

// DisplayName returns name, falling back to username, then "User".
func (u *User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	}
	return "User"
}

// Stream is the live state of a channel.
type Stream struct {
	IsLive      bool   `json:"is_live"`
	ViewerCount *int   `json:"viewer_count,omitempty"`
	Language    string `json:"language,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// Category is the category a channel is streaming in.
type Category struct {
	ID   FlexID `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Channel is a channel as returned by the channels and search endpoints.
type Channel struct {
	Slug               string    `json:"slug"`
	Username           string    `json:"username"`
	BroadcasterUserID  FlexID    `json:"broadcaster_user_id"`
	UserID             FlexID    `json:"user_id"`
	ID                 FlexID    `json:"id"`
	ChannelDescription string    `json:"channel_description"`
	BannerPicture      string    `json:"banner_picture"`
	StreamTitle        string    `json:"stream_title"`
	Stream             *Stream   `json:"stream"`
	Category           *Category `json:"category"`
	User               *struct {
		ID FlexID `json:"id"`
	} `json:"user"`

	Raw json.RawMessage `json:"-"`
}

// BroadcasterID picks the broadcaster's user id from whichever field the
// response carries: broadcaster_user_id, user_id, id, then user.id.
func (c *Channel) BroadcasterID() FlexID {
	for _, id := range []FlexID{c.BroadcasterUserID, c.UserID, c.ID} {
		if id != "" {
			return id
		}
	}
	if c.User != nil {
		return c.User.ID
	}
	return ""
}

// DisplaySlug returns slug, falling back to username.
func (c *Channel) DisplaySlug() string {
	if c.Slug != "" {
		return c.Slug
	}
	return c.Username
}

// decodeItems splits an envelope field that may hold a list, a single
// object, or nothing.
func decodeItems(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		return []json.RawMessage{raw}, nil
	}
	return nil, fmt.Errorf("kick: unexpected data of type %q", raw[0])
}

// envelope is the wrapper around every public API response. The search
// endpoint has been seen answering with "channels" instead of "data".
type envelope struct {
	Data     json.RawMessage `json:"data"`
	Channels json.RawMessage `json:"channels"`
}

func decodeChannels(body []byte) ([]Channel, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("kick: decode response: %w", err)
	}
	items, err := decodeItems(env.Data)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if items, err = decodeItems(env.Channels); err != nil {
			return nil, err
		}
	}
	channels := make([]Channel, 0, len(items))
	for _, item := range items {
		var ch Channel
		if err := json.Unmarshal(item, &ch); err != nil {
			// Entries that are not objects are skipped.
			continue
		}
		ch.Raw = item
		channels = append(channels, ch)
	}
	return channels, nil
}

func decodeUser(body []byte) (*User, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("kick: decode response: %w", err)
	}
	items, err := decodeItems(env.Data)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	var u User
	if err := json.Unmarshal(items[0], &u); err != nil {
		return nil, fmt.Errorf("kick: decode user: %w", err)
	}
	u.Raw = items[0]
	return &u, nil
}
