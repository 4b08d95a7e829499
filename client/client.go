// Package client is the console's HTTP client for the collection backend.
// Every request carries the stored access token; a 401 is handed to the
// session Coordinator and the request is replayed once with the new token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/netsentinel/pcapconsole/session"
)

// Request describes one API call.
type Request struct {
	Method string
	// Path is relative to the server root, e.g. /api/v1/jobs.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Client issues authenticated requests against the backend.
type Client struct {
	auth    *AuthClient
	store   *session.Store
	coord   *session.Coordinator
	baseURL *url.URL
	cfg     config
	logger  *slog.Logger
}

// New returns a Client sharing auth's server. coord must have been built
// with auth as its Refresher.
func New(auth *AuthClient, store *session.Store, coord *session.Coordinator, opts ...Option) *Client {
	cfg := auth.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		auth:    auth,
		store:   store,
		coord:   coord,
		baseURL: auth.baseURL,
		cfg:     cfg,
		logger:  cfg.logger.With("component", "client"),
	}
}

// Do sends req and decodes a JSON response into out when out is non-nil.
// Non-2xx responses are returned as *HTTPError and transport errors are
// returned wrapped. Only a 401 on a request that has not yet been replayed
// triggers a refresh.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = b
	}

	token := ""
	if creds, err := c.store.Load(); err == nil {
		token = creds.AccessToken
	} else if !errors.Is(err, session.ErrNoCredentials) {
		return err
	}

	requestID := uuid.NewString()
	resp, err := c.send(ctx, req, body, token, requestID, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		cause := newHTTPError(resp, requestID)
		replay, err := c.coord.Recover(ctx, token, cause)
		if err != nil {
			return err
		}
		defer replay.Dispatched()
		c.logger.Debug("replaying after refresh", "method", req.Method, "path", req.Path, "request_id", requestID)
		resp, err = c.send(ctx, req, body, replay.Token, requestID, replay.Dispatched)
		if err != nil {
			return err
		}
		// A second 401 is final.
	}
	return c.decode(resp, requestID, out)
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token, requestID string, onWritten func()) (*http.Response, error) {
	if onWritten != nil {
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			WroteRequest: func(httptrace.WroteRequestInfo) { onWritten() },
		})
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, resolve(c.baseURL, req.Path, req.Query), reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.userAgent)
	httpReq.Header.Set("X-Request-Id", requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	if c.cfg.limiter != nil {
		if err := c.cfg.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	resp, err := c.cfg.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	c.logger.Debug("request",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (c *Client) decode(resp *http.Response, requestID string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp, requestID)
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login authenticates and stores the resulting credentials.
func (c *Client) Login(ctx context.Context, username, password string) (session.Credentials, error) {
	creds, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return session.Credentials{}, err
	}
	if err := c.store.Save(creds); err != nil {
		return session.Credentials{}, fmt.Errorf("storing credentials: %w", err)
	}
	c.logger.Info("logged in", "username", creds.Username, "role", creds.Role)
	return creds, nil
}

// Logout clears the stored session.
func (c *Client) Logout() error {
	return c.coord.Logout(session.ErrLoggedOut)
}

// Whoami returns the stored credentials.
func (c *Client) Whoami() (session.Credentials, error) {
	return c.store.Load()
}

// Coordinator returns the refresh coordinator used by this client.
func (c *Client) Coordinator() *session.Coordinator {
	return c.coord
}
