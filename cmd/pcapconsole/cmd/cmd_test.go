package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"

	"github.com/netsentinel/pcapconsole/client"
	"github.com/netsentinel/pcapconsole/devserver"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// setupBackend starts a devserver and points the CLI at it with a bbolt
// credential store in a temp dir.
func setupBackend(t *testing.T) *devserver.Server {
	t.Helper()
	srv, err := devserver.New(
		devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		devserver.WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	_, err = srv.AddUser("ops", "correct horse", devserver.RoleAdmin)
	require.NoError(t, err)
	_, err = srv.AddUser("analyst", "battery staple", devserver.RoleUser)
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
	})

	t.Chdir(t.TempDir())
	t.Setenv("PCAPCONSOLE_SERVER", hs.URL)
	t.Setenv("PCAPCONSOLE_STORE", filepath.Join(t.TempDir(), "credentials.db"))
	t.Setenv("PCAPCONSOLE_LOG_LEVEL", "error")
	return srv
}

// resetFlags undoes flag state left over from a previous Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// run executes the CLI with args and stdin, returning stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	require.NoError(t, err, "pcapconsole %s", strings.Join(args, " "))
	return out
}

func decodeJSON[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(s), &v), s)
	return v
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestLoginWhoamiLogout(t *testing.T) {
	setupBackend(t)

	out := mustRun(t, "correct horse\n", "login", "-u", "ops", "--password-stdin")
	assert.Contains(t, out, "as ops (admin)")

	who := decodeJSON[whoamiView](t, mustRun(t, "", "whoami", "--json"))
	assert.Equal(t, "ops", who.Username)
	assert.EqualValues(t, "admin", who.Role)
	require.NotNil(t, who.AccessExpires)

	assert.Contains(t, mustRun(t, "", "whoami"), "Access token expires")

	mustRun(t, "", "logout")
	_, err := run(t, "", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestLoginPromptsForUsername(t *testing.T) {
	setupBackend(t)
	out := mustRun(t, "analyst\nbattery staple\n", "login", "--password-stdin")
	assert.Contains(t, out, "as analyst (user)")
}

func TestLoginWrongPassword(t *testing.T) {
	setupBackend(t)
	_, err := run(t, "nope\n", "login", "-u", "ops", "--password-stdin")
	require.Error(t, err)
	assert.Equal(t, 401, client.StatusCode(err))
}

func TestConsoleCommands(t *testing.T) {
	setupBackend(t)
	mustRun(t, "correct horse\n", "login", "-u", "ops", "--password-stdin")

	assert.Contains(t, mustRun(t, "", "health"), "Status")

	sensors := decodeJSON[[]client.Sensor](t, mustRun(t, "", "sensors", "--json"))
	require.Len(t, sensors, 5)
	assert.Contains(t, mustRun(t, "", "sensors"), "fra-edge-01")
	assert.Contains(t, mustRun(t, "", "sensors", "syd-edge-01"), "offline")

	topo := decodeJSON[client.Topology](t, mustRun(t, "", "network", "--site", "fra", "--site", "iad", "--json"))
	assert.Len(t, topo.Sites, 2)

	job := decodeJSON[client.Job](t, mustRun(t, "",
		"jobs", "submit", "--name", "dns", "--filter", "udp port 53",
		"--sensor", "fra-edge-01", "--duration", "5m", "--json"))
	assert.Equal(t, "ops", job.Owner)
	assert.Equal(t, "udp port 53", job.Filter)

	list := decodeJSON[client.JobList](t, mustRun(t, "", "jobs", "list", "--json"))
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, job.ID, list.Jobs[0].ID)
	assert.Contains(t, mustRun(t, "", "jobs", "list"), "1 of 1 jobs")

	assert.Contains(t, mustRun(t, "", "jobs", "get", job.ID), "udp port 53")

	cancelled := decodeJSON[client.Job](t, mustRun(t, "", "jobs", "cancel", job.ID, "--json"))
	assert.Equal(t, client.JobCancelled, cancelled.Status)

	_, err := run(t, "", "jobs", "cancel", job.ID)
	assert.Equal(t, 409, client.StatusCode(err))

	_, err = run(t, "", "jobs", "submit", "--name", "x", "--filter", "tcp", "--sensor", "fra-edge-01", "--start", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RFC 3339")
}

func TestAdminCommands(t *testing.T) {
	setupBackend(t)
	mustRun(t, "correct horse\n", "login", "-u", "ops", "--password-stdin")

	mustRun(t, "", "network")
	assert.Contains(t, mustRun(t, "", "admin", "cache-clear"), "Evicted 1 cache entries")

	u := decodeJSON[client.User](t, mustRun(t, "long enough pw\n", "admin", "users", "add", "viewer", "--password-stdin", "--json"))
	assert.Equal(t, "user", u.Role)

	users := decodeJSON[[]client.User](t, mustRun(t, "", "admin", "users", "list", "--json"))
	assert.Len(t, users, 3)

	assert.Contains(t, mustRun(t, "", "admin", "users", "rm", u.ID), "Deleted")

	logs := decodeJSON[[]client.LogEntry](t, mustRun(t, "", "admin", "logs", "--component", "audit", "--json"))
	require.NotEmpty(t, logs)
	assert.Equal(t, "audit", logs[0].Component)
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	setupBackend(t)
	mustRun(t, "battery staple\n", "login", "-u", "analyst", "--password-stdin")

	_, err := run(t, "", "admin", "cache-clear")
	assert.Equal(t, 403, client.StatusCode(err))

	// A 403 is not a session failure; the analyst stays logged in.
	assert.Contains(t, mustRun(t, "", "whoami"), "analyst")
}

func TestPrefsSetKeepsUnchangedFields(t *testing.T) {
	setupBackend(t)
	mustRun(t, "correct horse\n", "login", "-u", "ops", "--password-stdin")

	before := decodeJSON[client.Preferences](t, mustRun(t, "", "prefs", "get", "--json"))
	after := decodeJSON[client.Preferences](t, mustRun(t, "", "prefs", "set", "--theme", "light", "--sites", "fra", "--json"))
	assert.Equal(t, "light", after.Theme)
	assert.Equal(t, []string{"fra"}, after.DefaultSites)
	assert.Equal(t, before.Timezone, after.Timezone)
	assert.Equal(t, before.PageSize, after.PageSize)

	_, err := run(t, "", "prefs", "set", "--theme", "neon")
	assert.Equal(t, 400, client.StatusCode(err))
}

func TestCommandsWithoutLogin(t *testing.T) {
	setupBackend(t)
	_, err := run(t, "", "sensors")
	require.Error(t, err)

	_, err = run(t, "", "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestInvalidConfig(t *testing.T) {
	setupBackend(t)
	_, err := run(t, "", "health", "--server", "ftp://example.com")
	assert.Error(t, err)

	_, err = run(t, "", "health", "--log-level", "loud")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	setupBackend(t)
	assert.Contains(t, mustRun(t, "", "version"), "pcapconsole "+Version)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(3<<19))
	assert.Equal(t, "2.0 GiB", formatBytes(2<<30))
}

func TestStatusLabelKeepsText(t *testing.T) {
	for _, s := range []string{"online", "degraded", "offline", "mystery"} {
		assert.Contains(t, statusLabel(s), s)
	}
}

func TestLockedStoreReportsHolder(t *testing.T) {
	setupBackend(t)
	mustRun(t, "correct horse\n", "login", "-u", "ops", "--password-stdin")

	// Hold the file the way a running `watch` does.
	db, err := bbolt.Open(os.Getenv("PCAPCONSOLE_STORE"), 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)

	_, err = run(t, "", "whoami")
	require.ErrorIs(t, err, errStoreLocked)
	assert.Contains(t, err.Error(), "pcapconsole watch")

	require.NoError(t, db.Close())
	assert.Contains(t, mustRun(t, "", "whoami"), "ops")
}

func TestWatchHelpMentionsStoreLock(t *testing.T) {
	assert.Contains(t, watchCmd.Long, "locked")
	assert.Contains(t, watchCmd.Long, "--store")
}
