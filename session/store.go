package session

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/netsentinel/pcapconsole/storage"
)

// Local storage keys. All five are written and removed together.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyRole         = "role"
	KeyIsAdmin      = "isAdmin"
	KeyUsername     = "username"
)

var credentialKeys = []string{KeyAccessToken, KeyRefreshToken, KeyRole, KeyIsAdmin, KeyUsername}

// Store persists Credentials in a storage.Repository.
type Store struct {
	repo storage.Repository
}

func NewStore(repo storage.Repository) *Store {
	return &Store{repo: repo}
}

// Load returns the stored credentials. All five keys are read from one
// snapshot. A partially written session is reported as ErrNoCredentials.
func (s *Store) Load() (Credentials, error) {
	values := make(map[string]string, len(credentialKeys))
	err := s.repo.View(func(tx storage.ReadTx) error {
		for _, key := range credentialKeys {
			v, err := tx.Get(key)
			if errors.Is(err, storage.ErrNotFound) {
				return ErrNoCredentials
			}
			if err != nil {
				return fmt.Errorf("loading %s: %w", key, err)
			}
			values[key] = v
		}
		return nil
	})
	if err != nil {
		return Credentials{}, err
	}
	role, err := ParseRole(values[KeyRole])
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	creds := Credentials{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		Role:         role,
		Username:     values[KeyUsername],
	}
	if !creds.Complete() {
		return Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

// Save writes all five keys in one batch.
func (s *Store) Save(c Credentials) error {
	if !c.Complete() {
		return fmt.Errorf("saving credentials: %w", ErrNoCredentials)
	}
	if _, err := ParseRole(string(c.Role)); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return s.repo.Batch(func(tx storage.BatchTx) error {
		writes := map[string]string{
			KeyAccessToken:  c.AccessToken,
			KeyRefreshToken: c.RefreshToken,
			KeyRole:         string(c.Role),
			KeyIsAdmin:      strconv.FormatBool(c.IsAdmin()),
			KeyUsername:     c.Username,
		}
		for _, key := range credentialKeys {
			if err := tx.Put(key, writes[key]); err != nil {
				return fmt.Errorf("writing %s: %w", key, err)
			}
		}
		return nil
	})
}

// Clear removes all five keys in one batch.
func (s *Store) Clear() error {
	return s.repo.Batch(func(tx storage.BatchTx) error {
		for _, key := range credentialKeys {
			if err := tx.Delete(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		return nil
	})
}
