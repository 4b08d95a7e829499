package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/netsentinel/pcapconsole/session"
)

const (
	loginPath   = "/api/v1/login"
	refreshPath = "/api/v1/refresh"
)

// AuthClient talks to the login and refresh endpoints. It is never wrapped
// by a Coordinator, so a 401 from refresh cannot recurse into another
// refresh.
type AuthClient struct {
	baseURL *url.URL
	cfg     config
	logger  *slog.Logger
}

var _ session.Refresher = (*AuthClient)(nil)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
}

// NewAuthClient returns an AuthClient for the backend at baseURL.
func NewAuthClient(baseURL string, opts ...Option) (*AuthClient, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &AuthClient{
		baseURL: u,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "auth"),
	}, nil
}

// BaseURL returns the backend root this client talks to.
func (a *AuthClient) BaseURL() string {
	return a.baseURL.String()
}

// Login exchanges a username and password for credentials.
func (a *AuthClient) Login(ctx context.Context, username, password string) (session.Credentials, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return session.Credentials{}, err
	}
	creds, err := a.exchange(ctx, loginPath, body, "")
	if err != nil {
		return session.Credentials{}, fmt.Errorf("login: %w", err)
	}
	creds.Username = username
	return creds, nil
}

// Refresh exchanges a refresh token for new credentials. The token is sent
// as a bearer credential with an empty body.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (session.Credentials, error) {
	if refreshToken == "" {
		return session.Credentials{}, session.ErrNoRefreshToken
	}
	creds, err := a.exchange(ctx, refreshPath, nil, refreshToken)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("refresh: %w", err)
	}
	return creds, nil
}

func (a *AuthClient) exchange(ctx context.Context, path string, body []byte, bearer string) (session.Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolve(a.baseURL, path, nil), bytes.NewReader(body))
	if err != nil {
		return session.Credentials{}, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.cfg.userAgent)
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	if a.cfg.limiter != nil {
		if err := a.cfg.limiter.Wait(ctx); err != nil {
			return session.Credentials{}, err
		}
	}
	resp, err := a.cfg.httpClient.Do(req)
	if err != nil {
		return session.Credentials{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := newHTTPError(resp, requestID)
		a.logger.Debug("auth request rejected", "path", path, "status", herr.StatusCode, "request_id", requestID)
		return session.Credentials{}, herr
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return session.Credentials{}, fmt.Errorf("decoding token response: %w", err)
	}
	role, err := session.ParseRole(tr.Role)
	if err != nil {
		return session.Credentials{}, err
	}
	creds := session.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Role:         role,
	}
	if !creds.Complete() {
		return session.Credentials{}, fmt.Errorf("token response missing tokens")
	}
	return creds, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", raw)
	}
	return u, nil
}

func resolve(base *url.URL, path string, query url.Values) string {
	u := *base
	u.Path = base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}
