// Package bbolt provides a BBolt-backed local storage repository.
package bbolt

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/netsentinel/pcapconsole/storage"
)

var (
	dataBucket = []byte("local_storage")
	metaBucket = []byte("meta")
	saltKey    = []byte("kdf_salt")
)

const aadPrefix = "pcapconsole:ls:"

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db      *bbolt.DB
	sealKey []byte
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSealKey seals every value with AES-256-GCM before it reaches disk.
// The key must be storage.SealKeySize bytes.
func WithSealKey(key []byte) Option {
	return func(s *Store) {
		s.sealKey = append([]byte(nil), key...)
	}
}

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.sealKey != nil && len(s.sealKey) != storage.SealKeySize {
		return nil, storage.ErrSealKey
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}
	return s, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSealed opens the database at path and seals values with a key derived
// from passphrase. The KDF salt is created on first use and kept in the
// database's meta bucket.
func OpenSealed(path string, options *bbolt.Options, passphrase string, params storage.KDFParams) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	salt, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	key, err := storage.DeriveSealKey(passphrase, salt, params)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer storage.Wipe(key)
	s, err := NewRepository(db, WithSealKey(key))
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func loadOrCreateSalt(db *bbolt.DB) ([]byte, error) {
	var salt []byte
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if existing := b.Get(saltKey); existing != nil {
			salt = append([]byte(nil), existing...)
			return nil
		}
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generating salt: %w", err)
		}
		return b.Put(saltKey, salt)
	})
	return salt, err
}

// Close wipes the seal key and closes the underlying BBolt database.
func (s *Store) Close() error {
	storage.Wipe(s.sealKey)
	return s.db.Close()
}

func (s *Store) encode(key, value string) ([]byte, error) {
	if s.sealKey == nil {
		return []byte(value), nil
	}
	env, err := storage.Seal(s.sealKey, []byte(value), []byte(aadPrefix+key))
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (s *Store) decode(key string, data []byte) (string, error) {
	if s.sealKey == nil {
		return string(data), nil
	}
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%s: decoding envelope: %w", key, err)
	}
	plain, err := storage.Open(s.sealKey, &env, []byte(aadPrefix+key))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	defer storage.Wipe(plain)
	return string(plain), nil
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.View(func(tx storage.ReadTx) error {
		v, err := tx.Get(key)
		value = v
		return err
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Put(key, value string) error {
	return s.Batch(func(tx storage.BatchTx) error {
		return tx.Put(key, value)
	})
}

func (s *Store) Delete(key string) error {
	return s.Batch(func(tx storage.BatchTx) error {
		return tx.Delete(key)
	})
}

func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(dataBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

type boltBatchTx struct {
	store  *Store
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Put(key, value string) error {
	data, err := tx.store.encode(key, value)
	if err != nil {
		return err
	}
	return tx.bucket.Put([]byte(key), data)
}

// Delete is a no-op for keys that do not exist.
func (tx *boltBatchTx) Delete(key string) error {
	return tx.bucket.Delete([]byte(key))
}

type boltReadTx struct {
	store  *Store
	bucket *bbolt.Bucket
}

func (tx *boltReadTx) Get(key string) (string, error) {
	data := tx.bucket.Get([]byte(key))
	if data == nil {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return tx.store.decode(key, data)
}

// View runs fn inside a single read-only transaction.
func (s *Store) View(fn func(tx storage.ReadTx) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltReadTx{store: s, bucket: tx.Bucket(dataBucket)})
	})
}

// Batch runs fn inside a single read-write transaction. Returning an error
// from fn rolls back every staged write.
func (s *Store) Batch(fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltBatchTx{store: s, bucket: tx.Bucket(dataBucket)})
	})
}
