package devserver

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	minPasswordLen = 8
	maxUsernameLen = 64
)

type userRecord struct {
	ID           string
	Username     string
	Role         string
	PasswordHash []byte
	CreatedAt    time.Time
}

func (u userRecord) public() User {
	return User{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt}
}

type userStore struct {
	mu     sync.RWMutex
	byID   map[string]*userRecord
	byName map[string]*userRecord
	cost   int
}

func newUserStore(cost int) *userStore {
	return &userStore{
		byID:   make(map[string]*userRecord),
		byName: make(map[string]*userRecord),
		cost:   cost,
	}
}

// normalizeUsername folds compatibility forms so "ｏｐｓ" and "ops" are the
// same account.
func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

func (s *userStore) create(username, password, role string) (userRecord, error) {
	name := normalizeUsername(username)
	switch {
	case name == "":
		return userRecord{}, fmt.Errorf("%w: username is required", ErrValidation)
	case len(name) > maxUsernameLen:
		return userRecord{}, fmt.Errorf("%w: username longer than %d characters", ErrValidation, maxUsernameLen)
	case len(password) < minPasswordLen:
		return userRecord{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	case !validRole(role):
		return userRecord{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return userRecord{}, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[name]; exists {
		return userRecord{}, ErrUserExists
	}
	rec := &userRecord{
		ID:           uuid.NewString(),
		Username:     name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	s.byID[rec.ID] = rec
	s.byName[name] = rec
	return *rec, nil
}

// authenticate checks a password. Unknown users still pay for a bcrypt
// comparison so response timing does not reveal which usernames exist.
func (s *userStore) authenticate(username, password string) (userRecord, error) {
	name := normalizeUsername(username)
	s.mu.RLock()
	rec, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return userRecord{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)); err != nil {
		return userRecord{}, ErrInvalidCredentials
	}
	return *rec, nil
}

func (s *userStore) get(id string) (userRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return userRecord{}, false
	}
	return *rec, true
}

func (s *userStore) delete(id string) (userRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return userRecord{}, ErrUserNotFound
	}
	delete(s.byID, id)
	delete(s.byName, rec.Username)
	return *rec, nil
}

func (s *userStore) list() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.byID))
	for _, rec := range s.byID {
		users = append(users, rec.public())
	}
	slices.SortFunc(users, func(a, b User) int { return strings.Compare(a.Username, b.Username) })
	return users
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("pcapconsole-timing-pad"), bcrypt.MinCost)
