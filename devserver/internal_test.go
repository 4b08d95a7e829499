package devserver

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoginLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newLoginLimiter(usernamePolicy)
	for i := 0; i < usernamePolicy.maxFailures-1; i++ {
		rl.recordFailure("ops")
		blocked, _ := rl.check("ops")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}

	rl.recordFailure("ops")
	blocked, first := rl.check("ops")
	require.True(t, blocked)
	assert.Greater(t, first, time.Duration(0))

	rl.recordFailure("ops")
	_, second := rl.check("ops")
	assert.Greater(t, second, first, "lockout should grow with more failures")

	rl.recordSuccess("ops")
	blocked, _ = rl.check("ops")
	assert.False(t, blocked)
}

func TestLoginLimiter_LockoutIsCapped(t *testing.T) {
	rl := newLoginLimiter(usernamePolicy)
	for i := 0; i < usernamePolicy.maxFailures+20; i++ {
		rl.recordFailure("ops")
	}
	_, retryAfter := rl.check("ops")
	assert.LessOrEqual(t, retryAfter, usernamePolicy.maxLockout)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(10*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func testUser() userRecord {
	return userRecord{ID: "u-1", Username: "ops", Role: RoleAdmin}
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	ts := newTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Minute, time.Hour)
	resp, err := ts.issue(testUser())
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, resp.Role)
	assert.NotEmpty(t, resp.RefreshToken)

	claims, err := ts.verifyAccess(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, tokenIssuer, claims.Issuer)

	other := newTokenService([]byte("ffffffffffffffffffffffffffffffff"), time.Minute, time.Hour)
	_, err = other.verifyAccess(resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_ExpiredAccessToken(t *testing.T) {
	ts := newTokenService([]byte("0123456789abcdef0123456789abcdef"), -time.Minute, time.Hour)
	resp, err := ts.issue(testUser())
	require.NoError(t, err)
	_, err = ts.verifyAccess(resp.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RefreshIsSingleUse(t *testing.T) {
	ts := newTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Minute, time.Hour)
	first, err := ts.issue(testUser())
	require.NoError(t, err)
	second, err := ts.issue(testUser())
	require.NoError(t, err)

	userID, reused, err := ts.redeem(first.RefreshToken)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, "u-1", userID)

	// Replaying the redeemed token revokes the user's other tokens too.
	_, reused, err = ts.redeem(first.RefreshToken)
	assert.True(t, reused)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, reused, err = ts.redeem(second.RefreshToken)
	assert.True(t, reused, "revoked token counts as retired")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, reused, err = ts.redeem("never-issued")
	assert.False(t, reused)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_ExpiredRefresh(t *testing.T) {
	ts := newTokenService([]byte("0123456789abcdef0123456789abcdef"), time.Minute, -time.Second)
	resp, err := ts.issue(testUser())
	require.NoError(t, err)
	_, _, err = ts.redeem(resp.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	ts.sweep()
	assert.Empty(t, ts.live)
	assert.Empty(t, ts.retired)
}

func TestUserStore(t *testing.T) {
	s := newUserStore(bcrypt.MinCost)
	rec, err := s.create("  OPS ", "correct horse", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "ops", rec.Username)

	_, err = s.create("ｏｐｓ", "another password", RoleUser)
	assert.ErrorIs(t, err, ErrUserExists, "fullwidth form folds to the same name")

	_, err = s.create("analyst", "short", RoleUser)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.create("analyst", "long enough", "root")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := s.authenticate("Ops", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = s.authenticate("ops", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.authenticate("ghost", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.delete(rec.ID)
	require.NoError(t, err)
	_, err = s.delete(rec.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, s.list())
}

func TestMetrics_LoginFailureSpike(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	collector.loginThreshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	mu.Lock()
	assert.Empty(t, alerts)
	mu.Unlock()

	collector.recordEvent(AuditLoginFailure)
	collector.recordEvent(AuditRefreshReuse)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	assert.Equal(t, AlertRefreshReuse, alerts[1].Type)
}

func TestMetrics_NilCollector(t *testing.T) {
	var m *metricsCollector
	assert.NotPanics(t, func() { m.recordEvent(AuditLoginFailure) })
}

func TestLogRing(t *testing.T) {
	ring := newLogRing(3)
	ring.add(slog.LevelInfo, "http", "one")
	ring.add(slog.LevelWarn, "http", "two")
	ring.add(slog.LevelInfo, "audit", "three")
	ring.add(slog.LevelError, "http", "four")

	all := ring.query(slog.LevelDebug, "", 10)
	require.Len(t, all, 3)
	assert.Equal(t, "four", all[0].Message)
	assert.Equal(t, "two", all[2].Message, "oldest entry was overwritten")

	warn := ring.query(slog.LevelWarn, "http", 10)
	require.Len(t, warn, 2)
	assert.Equal(t, "error", warn[0].Level)

	assert.Len(t, ring.query(slog.LevelDebug, "", 1), 1)
}

func TestDataset_JobLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := newDataset(now)

	_, err := d.submitJob(SubmitJobRequest{Name: "dns", Filter: "udp port 53"}, "ops", now)
	assert.ErrorIs(t, err, ErrValidation, "sensors are required")
	_, err = d.submitJob(SubmitJobRequest{Name: "dns", Filter: "udp port 53", SensorIDs: []string{"nope"}}, "ops", now)
	assert.ErrorIs(t, err, ErrValidation)

	job, err := d.submitJob(SubmitJobRequest{
		Name:      "dns",
		Filter:    "udp port 53",
		SensorIDs: []string{"fra-edge-01"},
		Start:     now.Add(time.Minute),
	}, "ops", now)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, now.Add(time.Minute+defaultJobDuration), job.End)

	running, err := d.job(job.ID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, JobRunning, running.Status)
	assert.Positive(t, running.BytesCaptured)

	done, err := d.job(job.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, JobComplete, done.Status)

	_, err = d.cancelJob(job.ID, "ops", false, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrJobFinished)

	_, err = d.cancelJob(job.ID, "someone-else", false, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := d.cancelJob(job.ID, "auditor", true, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, cancelled.Status)

	later, err := d.job(job.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, later.Status, "cancellation is sticky")

	_, err = d.job("missing", now)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDataset_CacheAndPreferences(t *testing.T) {
	d := newDataset(time.Now())
	assert.Equal(t, 0, d.clearCache())
	d.listSensors()
	d.topology(time.Now())
	assert.Equal(t, 2, d.clearCache())

	assert.Equal(t, defaultPreferences(), d.preferences("u-1"))
	_, err := d.setPreferences("u-1", Preferences{Theme: "neon", Timezone: "UTC", PageSize: 10, RefreshSeconds: 10})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = d.setPreferences("u-1", Preferences{Theme: "light", Timezone: "UTC", PageSize: 10, RefreshSeconds: 10, DefaultSites: []string{"mars"}})
	assert.ErrorIs(t, err, ErrValidation)

	want := Preferences{Theme: "light", Timezone: "UTC", PageSize: 10, RefreshSeconds: 10, DefaultSites: []string{"fra"}}
	_, err = d.setPreferences("u-1", want)
	require.NoError(t, err)
	assert.Equal(t, want, d.preferences("u-1"))
}
