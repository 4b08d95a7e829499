package devserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = defaultLogRingSize
)

// ClearCache drops cached sensor and topology responses.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	n := s.data.clearCache()
	s.audit.logUser(AuditCacheCleared, r, p.Username, slog.Int("evicted", n))
	writeJSON(w, http.StatusOK, CacheClearResponse{Evicted: n})
}

// Logs returns retained log lines newest first. Supports ?level=,
// ?component= and ?limit=.
func (s *Server) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minLevel := slog.LevelDebug
	if v := q.Get("level"); v != "" {
		if err := minLevel.UnmarshalText([]byte(v)); err != nil {
			writeError(w, http.StatusBadRequest, "unknown log level "+v)
			return
		}
	}
	limit := defaultLogLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	writeJSON(w, http.StatusOK, LogsResponse{Entries: s.ring.query(minLevel, q.Get("component"), limit)})
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListUsersResponse{Users: s.users.list()})
}

func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	req, ok := decodeJSON[CreateUserRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Role == "" {
		req.Role = RoleUser
	}
	u, err := s.AddUser(req.Username, req.Password, req.Role)
	if err != nil {
		mapError(w, err)
		return
	}
	s.audit.logUser(AuditUserCreated, r, p.Username,
		slog.String("target", u.Username), slog.String("role", u.Role))
	writeJSON(w, http.StatusCreated, u)
}

// DeleteUser removes an account and revokes its refresh tokens. Admins
// cannot delete themselves.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	id := chi.URLParam(r, "userID")
	if id == p.UserID {
		writeError(w, http.StatusConflict, "cannot delete the signed-in account")
		return
	}
	rec, err := s.users.delete(id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		mapError(w, err)
		return
	}
	s.tokens.revoke(rec.ID)
	s.audit.logUser(AuditUserDeleted, r, p.Username, slog.String("target", rec.Username))
	w.WriteHeader(http.StatusNoContent)
}
