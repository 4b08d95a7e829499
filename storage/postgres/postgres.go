// Package postgres implements storage.Repository backed by PostgreSQL, for
// consoles that share a jump host and keep their sessions in one database.
//
// Every row is scoped by a namespace, normally the operator's login, so
// several operators can share the table. Values are stored as envelope
// columns; unsealed stores use the plain scheme with the value in
// ciphertext.
package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netsentinel/pcapconsole/storage"
)

const (
	plainScheme = "plain"
	aadPrefix   = "pcapconsole:pg:"

	defaultQueryTimeout = 10 * time.Second
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	namespace string
	sealKey   []byte
	timeout   time.Duration
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSealKey seals every value with AES-256-GCM before it is written.
func WithSealKey(key []byte) Option {
	return func(s *Store) {
		s.sealKey = append([]byte(nil), key...)
	}
}

// WithQueryTimeout bounds each statement. The Repository interface carries
// no context, so this is the only deadline a query gets.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRepository returns a Repository over pool scoped to namespace.
func NewRepository(pool *pgxpool.Pool, namespace string, opts ...Option) (*Store, error) {
	if namespace == "" {
		return nil, errors.New("postgres store: empty namespace")
	}
	s := &Store{pool: pool, namespace: namespace, timeout: defaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.sealKey != nil && len(s.sealKey) != storage.SealKeySize {
		return nil, storage.ErrSealKey
	}
	return s, nil
}

// Connect parses dsn, opens a pool, checks connectivity and ensures the
// schema exists.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return pool, nil
}

// NewRepositoryFromDSN connects to dsn and returns a Store that owns the
// pool. A non-empty passphrase seals values with a key derived from it;
// the KDF salt is kept per namespace in console_meta.
func NewRepositoryFromDSN(ctx context.Context, dsn, namespace, passphrase string, params storage.KDFParams) (*Store, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	var opts []Option
	if passphrase != "" {
		salt, err := loadOrCreateSalt(ctx, pool, namespace)
		if err != nil {
			pool.Close()
			return nil, err
		}
		key, err := storage.DeriveSealKey(passphrase, salt, params)
		if err != nil {
			pool.Close()
			return nil, err
		}
		defer storage.Wipe(key)
		opts = append(opts, WithSealKey(key))
	}
	s, err := NewRepository(pool, namespace, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func loadOrCreateSalt(ctx context.Context, pool *pgxpool.Pool, namespace string) ([]byte, error) {
	fresh := make([]byte, 16)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	// Concurrent first use settles on whichever insert wins.
	var salt []byte
	err := pool.QueryRow(ctx,
		`INSERT INTO console_meta (namespace, kdf_salt) VALUES ($1, $2)
		 ON CONFLICT (namespace) DO UPDATE SET kdf_salt = console_meta.kdf_salt
		 RETURNING kdf_salt`,
		namespace, fresh).Scan(&salt)
	if err != nil {
		return nil, fmt.Errorf("loading kdf salt: %w", err)
	}
	return salt, nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close wipes the seal key and closes the pool.
func (s *Store) Close() error {
	storage.Wipe(s.sealKey)
	s.pool.Close()
	return nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

type row struct {
	ver        int
	scheme     string
	nonce      []byte
	ciphertext []byte
}

func (s *Store) encode(key, value string) (row, error) {
	if s.sealKey == nil {
		return row{scheme: plainScheme, ciphertext: []byte(value)}, nil
	}
	env, err := storage.Seal(s.sealKey, []byte(value), []byte(aadPrefix+s.namespace+":"+key))
	if err != nil {
		return row{}, err
	}
	return row{ver: env.Ver, scheme: env.Scheme, nonce: env.Nonce, ciphertext: env.Ciphertext}, nil
}

func (s *Store) decode(key string, r row) (string, error) {
	if r.scheme == plainScheme {
		if s.sealKey != nil {
			return "", fmt.Errorf("%s: stored unsealed but store is sealed", key)
		}
		return string(r.ciphertext), nil
	}
	if s.sealKey == nil {
		return "", fmt.Errorf("%s: value is sealed, a passphrase is required", key)
	}
	env := &storage.Envelope{Ver: r.ver, Scheme: r.scheme, Nonce: r.nonce, Ciphertext: r.ciphertext}
	plain, err := storage.Open(s.sealKey, env, []byte(aadPrefix+s.namespace+":"+key))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	defer storage.Wipe(plain)
	return string(plain), nil
}

// ---------------------------------------------------------------------------
// Repository interface implementation
// ---------------------------------------------------------------------------

// rowQuerier is satisfied by both the pool and a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) get(ctx context.Context, q rowQuerier, key string) (string, error) {
	var r row
	err := q.QueryRow(ctx,
		`SELECT ver, scheme, nonce, ciphertext
		 FROM console_storage WHERE namespace = $1 AND key = $2`,
		s.namespace, key).Scan(&r.ver, &r.scheme, &r.nonce, &r.ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return s.decode(key, r)
}

func (s *Store) Get(key string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.get(ctx, s.pool, key)
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
	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT key FROM console_storage WHERE namespace = $1 ORDER BY key`, s.namespace)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type pgBatchTx struct {
	ctx   context.Context
	tx    pgx.Tx
	store *Store
}

func (b *pgBatchTx) Put(key, value string) error {
	r, err := b.store.encode(key, value)
	if err != nil {
		return err
	}
	_, err = b.tx.Exec(b.ctx,
		`INSERT INTO console_storage (namespace, key, ver, scheme, nonce, ciphertext, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET ver = $3, scheme = $4, nonce = $5, ciphertext = $6, updated_at = now()`,
		b.store.namespace, key, r.ver, r.scheme, r.nonce, r.ciphertext)
	return err
}

func (b *pgBatchTx) Delete(key string) error {
	_, err := b.tx.Exec(b.ctx,
		`DELETE FROM console_storage WHERE namespace = $1 AND key = $2`,
		b.store.namespace, key)
	return err
}

// Batch runs fn inside one transaction, committed only if fn returns nil.
func (s *Store) Batch(fn func(tx storage.BatchTx) error) error {
	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgBatchTx{ctx: ctx, tx: tx, store: s}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgReadTx struct {
	ctx   context.Context
	tx    pgx.Tx
	store *Store
}

func (r *pgReadTx) Get(key string) (string, error) {
	return r.store.get(r.ctx, r.tx, key)
}

// View runs fn inside a read-only REPEATABLE READ transaction so every read
// sees the same snapshot.
func (s *Store) View(fn func(tx storage.ReadTx) error) error {
	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgReadTx{ctx: ctx, tx: tx, store: s}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
