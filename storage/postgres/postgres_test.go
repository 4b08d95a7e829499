package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netsentinel/pcapconsole/storage"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PCAPCONSOLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PCAPCONSOLE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}
	return dsn
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	pool, err := Connect(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}

	// Clean tables for test isolation.
	clean := func() {
		pool.Exec(ctx, "DELETE FROM console_storage") //nolint:errcheck
		pool.Exec(ctx, "DELETE FROM console_meta")    //nolint:errcheck
	}
	clean()
	t.Cleanup(func() {
		clean()
		pool.Close()
	})
	return pool
}

func TestPostgresStorage(t *testing.T) {
	s, err := NewRepository(newTestPool(t), "analyst")
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	t.Run("PutGet", func(t *testing.T) {
		if err := s.Put("username", "analyst"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get("username")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != "analyst" {
			t.Errorf("expected analyst, got %q", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s.Put("role", "user")
		s.Put("role", "admin")
		got, _ := s.Get("role")
		if got != "admin" {
			t.Errorf("expected admin, got %q", got)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := s.Get("nope")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s.Put("tmp", "1")
		if err := s.Delete("tmp"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get("tmp"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("Keys", func(t *testing.T) {
		keys, err := s.Keys()
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if strings.Join(keys, ",") != "role,username" {
			t.Errorf("expected [role username], got %v", keys)
		}
	})

	t.Run("View", func(t *testing.T) {
		var role, username string
		err := s.View(func(tx storage.ReadTx) error {
			var err error
			if role, err = tx.Get("role"); err != nil {
				return err
			}
			username, err = tx.Get("username")
			return err
		})
		if err != nil {
			t.Fatalf("View failed: %v", err)
		}
		if role == "" || username == "" {
			t.Errorf("expected both keys in snapshot, got role=%q username=%q", role, username)
		}
	})

	t.Run("BatchRollsBack", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Batch(func(tx storage.BatchTx) error {
			if err := tx.Put("access_token", "a"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if _, err := s.Get("access_token"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("batch write leaked after rollback: %v", err)
		}
	})
}

func TestPostgresNamespaces(t *testing.T) {
	pool := newTestPool(t)
	a, _ := NewRepository(pool, "alice")
	b, _ := NewRepository(pool, "bob")

	if err := a.Put("access_token", "alice-token"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := b.Get("access_token"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("namespaces must not share keys, got %v", err)
	}
	if _, err := NewRepository(pool, ""); err == nil {
		t.Error("expected error for empty namespace")
	}
}

func TestPostgresSealed(t *testing.T) {
	dsn := testDSN(t)
	newTestPool(t)
	ctx := context.Background()
	params := storage.KDFParams{Time: 1, MemoryKiB: 1024, Parallelism: 1}

	s, err := NewRepositoryFromDSN(ctx, dsn, "ops", "hunter2", params)
	if err != nil {
		t.Fatalf("NewRepositoryFromDSN failed: %v", err)
	}
	if err := s.Put("refresh_token", "secret-refresh"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var ciphertext []byte
	err = s.Pool().QueryRow(ctx,
		`SELECT ciphertext FROM console_storage WHERE namespace = 'ops' AND key = 'refresh_token'`).Scan(&ciphertext)
	if err != nil {
		t.Fatalf("raw select failed: %v", err)
	}
	if strings.Contains(string(ciphertext), "secret-refresh") {
		t.Error("value stored in the clear")
	}
	s.Close()

	again, err := NewRepositoryFromDSN(ctx, dsn, "ops", "hunter2", params)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer again.Close()
	got, err := again.Get("refresh_token")
	if err != nil || got != "secret-refresh" {
		t.Fatalf("expected secret-refresh, got %q (%v)", got, err)
	}

	wrong, err := NewRepositoryFromDSN(ctx, dsn, "ops", "wrong", params)
	if err != nil {
		t.Fatalf("open with wrong passphrase failed: %v", err)
	}
	defer wrong.Close()
	if _, err := wrong.Get("refresh_token"); err == nil {
		t.Error("expected error opening with the wrong passphrase")
	}
}
