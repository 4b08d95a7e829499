package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *HTTPError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("http %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not
// an *HTTPError.
func StatusCode(err error) int {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

type errorResponse struct {
	Error string `json:"error"`
}

// newHTTPError drains and closes resp.Body.
func newHTTPError(resp *http.Response, requestID string) *HTTPError {
	defer resp.Body.Close()
	herr := &HTTPError{StatusCode: resp.StatusCode, RequestID: requestID}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		herr.Message = payload.Error
	} else if text := strings.TrimSpace(string(body)); text != "" {
		herr.Message = text
	} else {
		herr.Message = http.StatusText(resp.StatusCode)
	}
	return herr
}
