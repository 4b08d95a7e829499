package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/netsentinel/pcapconsole/client"
	"github.com/netsentinel/pcapconsole/internal/config"
	"github.com/netsentinel/pcapconsole/session"
	"github.com/netsentinel/pcapconsole/storage"
	bboltstorage "github.com/netsentinel/pcapconsole/storage/bbolt"
	"github.com/netsentinel/pcapconsole/storage/memory"
	pgstorage "github.com/netsentinel/pcapconsole/storage/postgres"
)

const storeLockTimeout = 2 * time.Second

// errStoreLocked means another process, usually `pcapconsole watch`, holds
// the bbolt credential file.
var errStoreLocked = errors.New("credential store is in use by another pcapconsole process")

// app bundles the objects one CLI invocation needs.
type app struct {
	repo   storage.Repository
	store  *session.Store
	auth   *client.AuthClient
	coord  *session.Coordinator
	client *client.Client
	closer io.Closer
}

// openApp builds the storage, session and client layers from cfg. extra
// options are appended to the coordinator's, so callers can add their own
// logout hook.
func openApp(ctx context.Context, stderr io.Writer, extra ...session.Option) (*app, error) {
	repo, closer, err := openRepository(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	clientOpts := []client.Option{
		client.WithLogger(logger),
		client.WithHTTPClient(newHTTPClient(cfg.HTTP)),
		client.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.Burst),
		client.WithUserAgent(userAgent()),
	}
	auth, err := client.NewAuthClient(cfg.Server, clientOpts...)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	store := session.NewStore(repo)
	opts := append([]session.Option{
		session.WithLogger(logger),
		session.WithRefreshTimeout(cfg.Session.RefreshTimeout),
		session.WithTimeouts(cfg.Session.Inactivity, cfg.Session.Countdown, cfg.Session.Tick),
		session.WithLogoutFunc(func(reason error) {
			if errors.Is(reason, session.ErrLoggedOut) {
				return
			}
			fmt.Fprintf(stderr, "session ended (%v), run `pcapconsole login`\n", reason)
		}),
	}, extra...)
	coord := session.NewCoordinator(store, auth, opts...)

	return &app{
		repo:   repo,
		store:  store,
		auth:   auth,
		coord:  coord,
		client: client.New(auth, store, coord),
		closer: closer,
	}, nil
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func openRepository(ctx context.Context, sc config.StoreConfig) (storage.Repository, io.Closer, error) {
	switch sc.Backend {
	case config.BackendMemory:
		return memory.NewRepository(), nil, nil
	case config.BackendPostgres:
		ns, err := cfg.StoreNamespace()
		if err != nil {
			return nil, nil, err
		}
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, sc.DSN, ns, sc.Passphrase, storage.DefaultKDFParams())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		return repo, repo, nil
	}
	path, err := cfg.StorePath()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	opts := &bbolt.Options{Timeout: storeLockTimeout}
	var repo *bboltstorage.Store
	if sc.Passphrase != "" {
		repo, err = bboltstorage.OpenSealed(path, opts, sc.Passphrase, storage.DefaultKDFParams())
	} else {
		repo, err = bboltstorage.NewRepositoryFromFile(path, opts)
	}
	if errors.Is(err, berrors.ErrTimeout) {
		return nil, nil, fmt.Errorf("%w (%s); stop `pcapconsole watch` or point --store at another file", errStoreLocked, path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store %s: %w", path, err)
	}
	return repo, repo, nil
}

func userAgent() string {
	if cfg.HTTP.UserAgent != "" {
		return cfg.HTTP.UserAgent
	}
	return "pcapconsole/" + Version
}
