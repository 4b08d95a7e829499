package session

import "errors"

var (
	ErrNoCredentials    = errors.New("no session credentials")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrRefreshSuspended = errors.New("token refresh suspended during timeout warning")
	ErrSessionExpired   = errors.New("session expired")
	ErrLoggedOut        = errors.New("logged out")
	ErrExtendInProgress = errors.New("session extend already in progress")
	ErrNotWarning       = errors.New("session is not in the warning phase")
)
