// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/netsentinel/pcapconsole/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Values are held in memguard enclaves so tokens are encrypted while resident.
// Suitable for tests and for sessions that must not outlive the process.
type Repository struct {
	mu sync.RWMutex
	// A nil enclave stands for the empty string.
	data map[string]*memguard.Enclave
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*memguard.Enclave)}
}

func seal(value string) *memguard.Enclave {
	if value == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(value))
}

func (r *Repository) Get(key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(key)
}

func (r *Repository) getLocked(key string) (string, error) {
	enclave, ok := r.data[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if enclave == nil {
		return "", nil
	}
	lb, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("%s: opening enclave: %w", key, err)
	}
	defer lb.Destroy()
	return string(lb.Bytes()), nil
}

func (r *Repository) Put(key, value string) error {
	enclave := seal(value)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = enclave
	return nil
}

func (r *Repository) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *Repository) Keys() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.data))
	for k := range r.data {
		keys = append(keys, k)
	}
	return keys, nil
}

type stagedWrite struct {
	key     string
	enclave *memguard.Enclave
	delete  bool
}

type memoryBatchTx struct {
	writes []stagedWrite
}

func (tx *memoryBatchTx) Put(key, value string) error {
	tx.writes = append(tx.writes, stagedWrite{key: key, enclave: seal(value)})
	return nil
}

func (tx *memoryBatchTx) Delete(key string) error {
	tx.writes = append(tx.writes, stagedWrite{key: key, delete: true})
	return nil
}

// Batch stages writes made by fn and applies them under a single lock if fn
// returns nil. On error nothing is applied.
func (r *Repository) Batch(fn func(tx storage.BatchTx) error) error {
	tx := &memoryBatchTx{}
	if err := fn(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range tx.writes {
		if w.delete {
			delete(r.data, w.key)
			continue
		}
		r.data[w.key] = w.enclave
	}
	return nil
}

type memoryReadTx struct {
	repo *Repository
}

func (tx memoryReadTx) Get(key string) (string, error) {
	return tx.repo.getLocked(key)
}

// View runs fn while holding the read lock, so no Batch lands between its
// reads.
func (r *Repository) View(fn func(tx storage.ReadTx) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(memoryReadTx{repo: r})
}
