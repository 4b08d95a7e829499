package client_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/netsentinel/pcapconsole/client"
	"github.com/netsentinel/pcapconsole/devserver"
	"github.com/netsentinel/pcapconsole/session"
	"github.com/netsentinel/pcapconsole/storage/memory"
)

type console struct {
	client  *client.Client
	store   *session.Store
	logouts chan error
	srv     *devserver.Server
}

func newConsole(t *testing.T, accessTTL time.Duration) *console {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := devserver.New(
		devserver.WithLogger(logger),
		devserver.WithBcryptCost(bcrypt.MinCost),
		devserver.WithAccessTTL(accessTTL),
	)
	require.NoError(t, err)
	_, err = srv.AddUser("ops", "correct horse", devserver.RoleAdmin)
	require.NoError(t, err)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
	})

	auth, err := client.NewAuthClient(hs.URL, client.WithLogger(logger))
	require.NoError(t, err)
	store := session.NewStore(memory.NewRepository())
	logouts := make(chan error, 4)
	coord := session.NewCoordinator(store, auth,
		session.WithLogger(logger),
		session.WithLogoutFunc(func(reason error) { logouts <- reason }),
	)
	return &console{
		client:  client.New(auth, store, coord),
		store:   store,
		logouts: logouts,
		srv:     srv,
	}
}

func TestDevserverSessionLifecycle(t *testing.T) {
	c := newConsole(t, time.Second)
	ctx := t.Context()

	creds, err := c.client.Login(ctx, "ops", "correct horse")
	require.NoError(t, err)
	assert.True(t, creds.IsAdmin())

	sensors, err := c.client.ListSensors(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sensors)

	// Wait for the access token to expire, then fire concurrent requests.
	// Refresh tokens are single use on this server, so a second refresh
	// would be treated as reuse and end the session.
	expiry, err := session.AccessTokenExpiry(creds.AccessToken)
	require.NoError(t, err)
	time.Sleep(time.Until(expiry) + 1100*time.Millisecond)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.client.NetworkTopology(ctx)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}

	after, err := c.store.Load()
	require.NoError(t, err)
	assert.NotEqual(t, creds.RefreshToken, after.RefreshToken)
	assert.Equal(t, "ops", after.Username)
	assert.Equal(t, session.RoleAdmin, after.Role)
	assert.GreaterOrEqual(t, c.client.Coordinator().Stats().Refreshes, uint64(1))

	select {
	case reason := <-c.logouts:
		t.Fatalf("unexpected logout: %v", reason)
	default:
	}

	job, err := c.client.SubmitJob(ctx, client.JobRequest{
		Name:      "dns",
		Filter:    "udp port 53",
		SensorIDs: []string{sensors[0].Name},
	})
	require.NoError(t, err)
	assert.Equal(t, "ops", job.Owner)

	list, err := c.client.ListJobs(ctx, client.JobFilter{Sensor: sensors[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)

	cancelled, err := c.client.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, client.JobCancelled, cancelled.Status)

	_, err = c.client.CancelJob(ctx, job.ID)
	assert.Equal(t, 409, client.StatusCode(err))
}

func TestDevserverRevokedRefreshEndsSession(t *testing.T) {
	c := newConsole(t, time.Second)
	ctx := t.Context()

	_, err := c.client.Login(ctx, "ops", "correct horse")
	require.NoError(t, err)

	users, err := c.client.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	// Another console redeems the same refresh token first.
	creds, err := c.store.Load()
	require.NoError(t, err)
	auth, err := client.NewAuthClient(c.client.BaseURL())
	require.NoError(t, err)
	_, err = auth.Refresh(ctx, creds.RefreshToken)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.client.ListSensors(ctx)
		return err != nil
	}, 5*time.Second, 200*time.Millisecond)

	select {
	case reason := <-c.logouts:
		assert.True(t, client.IsUnauthorized(reason), "reason: %v", reason)
	case <-time.After(time.Second):
		t.Fatal("expected logout")
	}
	_, err = c.store.Load()
	assert.ErrorIs(t, err, session.ErrNoCredentials)
}

func TestDevserverAdminAndPreferences(t *testing.T) {
	c := newConsole(t, time.Minute)
	ctx := t.Context()
	_, err := c.client.Login(ctx, "ops", "correct horse")
	require.NoError(t, err)

	u, err := c.client.CreateUser(ctx, client.CreateUserRequest{Username: "analyst", Password: "battery staple", Role: "user"})
	require.NoError(t, err)
	require.NoError(t, c.client.DeleteUser(ctx, u.ID))

	_, err = c.client.NetworkTopology(ctx, "fra", "iad")
	require.NoError(t, err)
	res, err := c.client.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)

	entries, err := c.client.Logs(ctx, client.LogQuery{Component: "audit", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "cache_cleared", entries[0].Message)

	prefs, err := c.client.UpdatePreferences(ctx, client.Preferences{Theme: "light", Timezone: "UTC", PageSize: 20, RefreshSeconds: 10})
	require.NoError(t, err)
	got, err := c.client.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefs, got)
}
