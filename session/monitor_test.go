package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestMonitor(t *testing.T, refresher Refresher, delay, countdown time.Duration) (*Monitor, *Coordinator, *Store, *logoutRecorder, *eventLog) {
	t.Helper()
	c, store, rec := newTestCoordinator(t, refresher, true)
	log := &eventLog{}
	m := NewMonitor(c,
		WithLogger(discardLogger()),
		WithTimeouts(delay, countdown, 10*time.Millisecond),
		WithNotify(log.add),
	)
	t.Cleanup(m.Stop)
	return m, c, store, rec, log
}

func waitForPhase(t *testing.T, m *Monitor, phase Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Snapshot().Phase == phase }, 2*time.Second, 2*time.Millisecond)
}

func TestDisplaySeconds(t *testing.T) {
	cases := []struct {
		remaining time.Duration
		want      int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{time.Second + time.Millisecond, 2},
		{59500 * time.Millisecond, 60},
		{time.Minute, 60},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DisplaySeconds(tc.remaining), tc.remaining.String())
	}
}

func TestMonitorExpiresWhenCountdownEnds(t *testing.T) {
	m, _, store, rec, log := newTestMonitor(t, &fakeRefresher{}, 20*time.Millisecond, 150*time.Millisecond)

	m.Start()
	waitForPhase(t, m, PhaseWarning)
	waitForPhase(t, m, PhaseExpired)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, []error{ErrSessionExpired}, rec.all())

	events := log.all()
	require.NotEmpty(t, events)
	assert.Equal(t, PhaseActive, events[0].Phase)
	last := events[len(events)-1]
	assert.Equal(t, PhaseExpired, last.Phase)
	assert.ErrorIs(t, last.Err, ErrSessionExpired)

	// Remaining never goes up during the warning phase.
	var warnings []time.Duration
	for _, ev := range events {
		if ev.Phase == PhaseWarning {
			warnings = append(warnings, ev.Remaining)
		}
	}
	require.GreaterOrEqual(t, len(warnings), 2)
	assert.Equal(t, 150*time.Millisecond, warnings[0])
	for i := 1; i < len(warnings); i++ {
		assert.LessOrEqual(t, warnings[i], warnings[i-1])
	}
}

func TestMonitorSuspendsReactiveRefreshDuringWarning(t *testing.T) {
	refresher := &fakeRefresher{}
	m, c, _, rec, _ := newTestMonitor(t, refresher, 20*time.Millisecond, 5*time.Second)

	m.Start()
	waitForPhase(t, m, PhaseWarning)

	_, err := c.Recover(context.Background(), "access-1", errUnauthorized)
	assert.ErrorIs(t, err, ErrRefreshSuspended)
	assert.Zero(t, refresher.calls.Load())

	require.NoError(t, m.Extend(context.Background()))
	assert.Equal(t, PhaseActive, m.Snapshot().Phase)

	replay, err := c.Recover(context.Background(), "access-2", errUnauthorized)
	require.NoError(t, err)
	replay.Dispatched()
	assert.Equal(t, "access-3", replay.Token)
	assert.Empty(t, rec.all())
}

func TestMonitorExtendIsIdempotent(t *testing.T) {
	refresher := &fakeRefresher{gate: make(chan struct{})}
	m, _, store, rec, log := newTestMonitor(t, refresher, 20*time.Millisecond, 5*time.Second)

	m.Start()
	waitForPhase(t, m, PhaseWarning)

	done := make(chan error, 1)
	go func() { done <- m.Extend(context.Background()) }()
	require.Eventually(t, func() bool { return m.Snapshot().Extending }, time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Extend(context.Background()), ErrExtendInProgress)
	assert.ErrorIs(t, m.Extend(context.Background()), ErrExtendInProgress)

	close(refresher.gate)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, refresher.calls.Load())

	snap := m.Snapshot()
	assert.Equal(t, PhaseActive, snap.Phase)
	assert.False(t, snap.Extending)
	assert.Zero(t, snap.DisplaySeconds)

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-2", creds.AccessToken)
	assert.Empty(t, rec.all())

	events := log.all()
	assert.Equal(t, PhaseActive, events[len(events)-1].Phase)

	// Timers were re-armed from zero: the warning comes back.
	waitForPhase(t, m, PhaseWarning)
}

func TestMonitorExtendFailureLogsOut(t *testing.T) {
	errRejected := errors.New("refresh token revoked")
	m, _, store, rec, log := newTestMonitor(t, &fakeRefresher{err: errRejected}, 20*time.Millisecond, 5*time.Second)

	m.Start()
	waitForPhase(t, m, PhaseWarning)

	err := m.Extend(context.Background())
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, PhaseExpired, m.Snapshot().Phase)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
	reasons := rec.all()
	require.Len(t, reasons, 1, "logout happens once")
	assert.ErrorIs(t, reasons[0], errRejected)

	events := log.all()
	last := events[len(events)-1]
	assert.Equal(t, PhaseExpired, last.Phase)
	assert.ErrorIs(t, last.Err, errRejected)
}

func TestMonitorLogoutNow(t *testing.T) {
	m, _, store, rec, _ := newTestMonitor(t, &fakeRefresher{}, 20*time.Millisecond, 5*time.Second)

	m.Start()
	waitForPhase(t, m, PhaseWarning)

	m.LogoutNow()
	m.LogoutNow()

	assert.Equal(t, PhaseExpired, m.Snapshot().Phase)
	assert.Equal(t, []error{ErrLoggedOut}, rec.all())
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestMonitorExtendOutsideWarning(t *testing.T) {
	m, _, _, _, _ := newTestMonitor(t, &fakeRefresher{}, time.Hour, time.Minute)

	assert.ErrorIs(t, m.Extend(context.Background()), ErrNotWarning)
	m.Start()
	assert.ErrorIs(t, m.Extend(context.Background()), ErrNotWarning)
}

func TestMonitorStopCancelsTimers(t *testing.T) {
	m, _, store, rec, log := newTestMonitor(t, &fakeRefresher{}, 20*time.Millisecond, 20*time.Millisecond)

	m.Start()
	m.Stop()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, PhaseActive, m.Snapshot().Phase)
	assert.Len(t, log.all(), 1)
	assert.Empty(t, rec.all())
	_, err := store.Load()
	assert.NoError(t, err)
}

func TestMonitorSupersededExtendKeepsCredentials(t *testing.T) {
	for name, supersede := range map[string]func(*Monitor){
		"stop":    (*Monitor).Stop,
		"restart": (*Monitor).Start,
	} {
		t.Run(name, func(t *testing.T) {
			refresher := &fakeRefresher{gate: make(chan struct{})}
			m, _, store, rec, _ := newTestMonitor(t, refresher, 20*time.Millisecond, 5*time.Second)

			m.Start()
			waitForPhase(t, m, PhaseWarning)

			done := make(chan error, 1)
			go func() { done <- m.Extend(context.Background()) }()
			require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)

			supersede(m)
			close(refresher.gate)
			require.NoError(t, <-done)

			creds, err := store.Load()
			require.NoError(t, err, "the refreshed session must survive")
			assert.Equal(t, "access-2", creds.AccessToken)
			assert.Empty(t, rec.all())
			assert.False(t, m.Snapshot().Extending)
		})
	}
}

func TestMonitorLogoutDuringExtendDropsRefresh(t *testing.T) {
	refresher := &fakeRefresher{gate: make(chan struct{})}
	m, _, store, rec, _ := newTestMonitor(t, refresher, 20*time.Millisecond, 5*time.Second)

	m.Start()
	waitForPhase(t, m, PhaseWarning)

	done := make(chan error, 1)
	go func() { done <- m.Extend(context.Background()) }()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)

	m.LogoutNow()
	close(refresher.gate)
	assert.ErrorIs(t, <-done, ErrSessionExpired)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, []error{ErrLoggedOut}, rec.all())
	assert.Equal(t, PhaseExpired, m.Snapshot().Phase)
}

func TestMonitorExtendSettlesAfterCallerGivesUp(t *testing.T) {
	refresher := &fakeRefresher{gate: make(chan struct{})}
	m, _, store, rec, _ := newTestMonitor(t, refresher, 20*time.Millisecond, 5*time.Second)

	m.Start()
	waitForPhase(t, m, PhaseWarning)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Extend(ctx) }()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, PhaseWarning, m.Snapshot().Phase)

	close(refresher.gate)
	waitForPhase(t, m, PhaseActive)
	assert.False(t, m.Snapshot().Extending)

	creds, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-2", creds.AccessToken)
	assert.Empty(t, rec.all())
}
