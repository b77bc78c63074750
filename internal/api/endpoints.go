package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListMessages fetches one page of the public feed
func (c *Client) ListMessages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(max(q.Page, 1)))
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.Campus != "" {
		params.Set("campus", q.Campus)
	}

	page, err := c.getPage(ctx, "/messages", params)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return page, nil
}

// CreateMessage posts a new anonymous message
func (c *Client) CreateMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	var created Message
	if err := c.Post(ctx, "/messages", msg, &created); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &created, nil
}

// LikeMessage likes a message and returns the authoritative like count
func (c *Client) LikeMessage(ctx context.Context, id int64) (int, error) {
	var result struct {
		LikesCount *int `json:"likes_count"`
	}
	if err := c.Post(ctx, fmt.Sprintf("/messages/%d/like", id), nil, &result); err != nil {
		return 0, fmt.Errorf("like message %d: %w", id, err)
	}
	if result.LikesCount == nil {
		return 0, fmt.Errorf("like message %d: %w", id, ErrMissingLikeCount)
	}
	return *result.LikesCount, nil
}

// ListAnnouncements fetches the active public announcements. The endpoint may
// answer with a bare array or with the usual envelope.
func (c *Client) ListAnnouncements(ctx context.Context) ([]Announcement, error) {
	var env flexibleEnvelope
	if err := c.do(ctx, http.MethodGet, "/public-announcements", nil, nil, &env); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}

	out := []Announcement{}
	if len(env.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, fmt.Errorf("list announcements: unmarshal data: %w", err)
	}
	return out, nil
}

// Login exchanges admin credentials for a bearer token
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}

	var result LoginResult
	if err := c.Post(ctx, "/admin/login", body, &result); err != nil {
		return nil, fmt.Errorf("admin login: %w", err)
	}
	return &result, nil
}

// AdminListMessages fetches one page of the moderation listing, deleted messages included
func (c *Client) AdminListMessages(ctx context.Context, q AdminMessageQuery) (*MessagePage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(max(q.Page, 1)))
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.IsDeleted != "" {
		params.Set("is_deleted", q.IsDeleted)
	}

	page, err := c.getPage(ctx, "/admin/messages", params)
	if err != nil {
		return nil, fmt.Errorf("admin list messages: %w", err)
	}
	return page, nil
}

// AdminDeleteMessage soft-deletes a message
func (c *Client) AdminDeleteMessage(ctx context.Context, id int64) error {
	if err := c.Delete(ctx, fmt.Sprintf("/admin/messages/%d", id), nil); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

// AdminListAnnouncements fetches every announcement, inactive ones included
func (c *Client) AdminListAnnouncements(ctx context.Context) ([]Announcement, error) {
	var out []Announcement
	if err := c.Get(ctx, "/admin/announcements", nil, &out); err != nil {
		return nil, fmt.Errorf("admin list announcements: %w", err)
	}
	return out, nil
}

// CreateAnnouncement publishes a new announcement
func (c *Client) CreateAnnouncement(ctx context.Context, a NewAnnouncement) (*Announcement, error) {
	var created Announcement
	if err := c.Post(ctx, "/admin/announcements", a, &created); err != nil {
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	return &created, nil
}

// UpdateAnnouncement applies a partial update
func (c *Client) UpdateAnnouncement(ctx context.Context, id int64, patch AnnouncementPatch) (*Announcement, error) {
	var updated Announcement
	if err := c.Put(ctx, fmt.Sprintf("/admin/announcements/%d", id), patch, &updated); err != nil {
		return nil, fmt.Errorf("update announcement %d: %w", id, err)
	}
	return &updated, nil
}

// DeleteAnnouncement removes an announcement
func (c *Client) DeleteAnnouncement(ctx context.Context, id int64) error {
	if err := c.Delete(ctx, fmt.Sprintf("/admin/announcements/%d", id), nil); err != nil {
		return fmt.Errorf("delete announcement %d: %w", id, err)
	}
	return nil
}

// getPage fetches a paginated listing and keeps its meta block
func (c *Client) getPage(ctx context.Context, path string, params url.Values) (*MessagePage, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, path, params, nil, &env); err != nil {
		return nil, err
	}

	page := &MessagePage{Data: []Message{}}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &page.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	if page.Data == nil {
		page.Data = []Message{}
	}
	if env.Meta != nil {
		page.Meta = *env.Meta
	}
	if page.Meta.CurrentPage == 0 {
		page.Meta.CurrentPage, _ = strconv.Atoi(params.Get("page"))
	}
	if page.Meta.LastPage == 0 {
		page.Meta.LastPage = page.Meta.CurrentPage
	}
	return page, nil
}

// flexibleEnvelope accepts either the usual envelope or a bare JSON array
type flexibleEnvelope struct {
	envelope
}

func (f *flexibleEnvelope) decodeRaw(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		f.Data = append(json.RawMessage(nil), trimmed...)
		return nil
	}
	return json.Unmarshal(trimmed, &f.envelope)
}
