package devserver

import (
	"log/slog"
	"net/http"
)

// Login exchanges a username and password for an access/refresh pair.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if blocked, retryAfter := s.ipRL.check(ip); blocked {
		s.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("retry_after", retryAfterString(retryAfter)))
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	name := normalizeUsername(req.Username)
	if name == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if blocked, retryAfter := s.userRL.check(name); blocked {
		s.audit.logFailure(AuditLoginRateLimited, r, "rate limited",
			slog.String("username", name),
			slog.String("retry_after", retryAfterString(retryAfter)))
		writeRateLimited(w, retryAfter)
		return
	}

	rec, err := s.users.authenticate(name, req.Password)
	if err != nil {
		s.userRL.recordFailure(name)
		s.ipRL.recordFailure(ip)
		s.audit.logFailure(AuditLoginFailure, r, "invalid credentials", slog.String("username", name))
		writeError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
		return
	}

	resp, err := s.tokens.issue(rec)
	if err != nil {
		writeInternalError(w, "failed to issue tokens", err)
		return
	}
	s.userRL.recordSuccess(name)
	s.ipRL.recordSuccess(ip)
	s.audit.logUser(AuditLoginSuccess, r, rec.Username, slog.String("role", rec.Role))
	writeJSON(w, http.StatusOK, resp)
}

// Refresh redeems the bearer refresh token for a new pair. The request body
// is empty. A refresh token works once; presenting it again revokes every
// token held by that user.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	userID, reused, err := s.tokens.redeem(token)
	if reused {
		s.audit.logFailure(AuditRefreshReuse, r, "retired refresh token presented", slog.String("user_id", userID))
		writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
		return
	}
	if err != nil {
		s.audit.logFailure(AuditRefreshFailure, r, "invalid refresh token")
		writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
		return
	}

	rec, ok := s.users.get(userID)
	if !ok {
		s.audit.logFailure(AuditRefreshFailure, r, "user no longer exists", slog.String("user_id", userID))
		writeError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
		return
	}

	resp, err := s.tokens.issue(rec)
	if err != nil {
		writeInternalError(w, "failed to issue tokens", err)
		return
	}
	s.audit.logUser(AuditRefresh, r, rec.Username)
	writeJSON(w, http.StatusOK, resp)
}
