package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ClearCache evicts the backend's query cache. Admin only.
func (c *Client) ClearCache(ctx context.Context) (*CacheClearResult, error) {
	var res CacheClearResult
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/admin/cache/clear"}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Logs returns recent backend log entries, newest first. Admin only.
func (c *Client) Logs(ctx context.Context, query LogQuery) ([]LogEntry, error) {
	q := url.Values{}
	if query.Level != "" {
		q.Set("level", query.Level)
	}
	if query.Component != "" {
		q.Set("component", query.Component)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	var resp struct {
		Entries []LogEntry `json:"entries"`
	}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/admin/logs", Query: q}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/admin/users"}, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var u User
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/admin/users", Body: req}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: apiPrefix + "/admin/users/" + url.PathEscape(id)}, nil)
}

func (c *Client) GetPreferences(ctx context.Context) (*Preferences, error) {
	var p Preferences
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: apiPrefix + "/preferences"}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdatePreferences(ctx context.Context, prefs Preferences) (*Preferences, error) {
	var p Preferences
	if err := c.Do(ctx, Request{Method: http.MethodPut, Path: apiPrefix + "/preferences", Body: prefs}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
