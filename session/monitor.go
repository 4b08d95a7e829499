package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Phase is the Monitor state.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseWarning
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseWarning:
		return "warning"
	case PhaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is delivered to the notify callback on every phase change and on
// each countdown tick while in PhaseWarning.
type Event struct {
	Phase     Phase
	Remaining time.Duration
	// Err is the reason the session ended, set only for PhaseExpired.
	Err error
}

// Snapshot is the Monitor state at a point in time.
type Snapshot struct {
	Phase          Phase
	Remaining      time.Duration
	DisplaySeconds int
	Extending      bool
}

// DisplaySeconds rounds a remaining duration up to whole seconds for
// display. The countdown timer, not this value, drives expiry.
func DisplaySeconds(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	return int((ms + 999) / 1000)
}

// Monitor warns before an inactive session times out. It arms a fixed
// delay from Start or the last successful Extend; activity does not reset
// it. When the delay fires it suspends the Coordinator and counts down.
// Each phase owns exactly one timer and callbacks from a superseded timer
// are dropped by generation.
type Monitor struct {
	coord  *Coordinator
	opts   options
	logger *slog.Logger

	mu        sync.Mutex
	phase     Phase
	timer     *time.Timer
	gen       uint64
	ends      uint64
	deadline  time.Time
	remaining time.Duration
	extending bool
}

func NewMonitor(coord *Coordinator, opts ...Option) *Monitor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Monitor{
		coord:  coord,
		opts:   o,
		logger: o.logger.With("component", "monitor"),
		phase:  PhaseExpired,
	}
}

// Start enters PhaseActive and arms the inactivity delay. Calling Start
// again restarts the delay.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.activateLocked()
	m.mu.Unlock()
	m.logger.Debug("session monitor started", "delay", m.opts.delay)
	m.emit(Event{Phase: PhaseActive})
}

// Extend refreshes the session from PhaseWarning. A second call while one
// is in flight returns ErrExtendInProgress without another refresh. On
// failure the session is already logged out by the Coordinator and the
// Monitor moves to PhaseExpired. If ctx ends first Extend returns its
// error, and the Monitor still settles on the refresh's own outcome.
func (m *Monitor) Extend(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseWarning {
		m.mu.Unlock()
		return ErrNotWarning
	}
	if m.extending {
		m.mu.Unlock()
		return ErrExtendInProgress
	}
	m.extending = true
	gen, ends := m.gen, m.ends
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := m.coord.Refresh(context.WithoutCancel(ctx))
		done <- m.settleExtend(gen, ends, err)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) settleExtend(gen, ends uint64, err error) error {
	m.mu.Lock()
	m.extending = false
	switch {
	case ends != m.ends:
		// Logged out while the refresh was in flight; drop what it stored.
		m.mu.Unlock()
		if err != nil {
			return err
		}
		if clearErr := m.coord.store.Clear(); clearErr != nil {
			return clearErr
		}
		return ErrSessionExpired
	case gen != m.gen:
		// Stopped or restarted. A successful refresh stays stored.
		m.mu.Unlock()
		return err
	case err != nil:
		m.expireLocked()
		m.mu.Unlock()
		m.logger.Warn("session extend failed", "error", err)
		m.emit(Event{Phase: PhaseExpired, Err: err})
		return err
	}
	m.activateLocked()
	m.mu.Unlock()
	m.logger.Info("session extended")
	m.emit(Event{Phase: PhaseActive})
	return nil
}

// LogoutNow ends the session immediately.
func (m *Monitor) LogoutNow() {
	m.end(ErrLoggedOut)
}

// Stop cancels all timers without touching credentials.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.stopTimerLocked()
	m.coord.Resume()
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Phase:          m.phase,
		Remaining:      m.remaining,
		DisplaySeconds: DisplaySeconds(m.remaining),
		Extending:      m.extending,
	}
}

func (m *Monitor) activateLocked() {
	m.gen++
	m.stopTimerLocked()
	m.coord.Resume()
	m.phase = PhaseActive
	m.remaining = 0
	gen := m.gen
	m.timer = time.AfterFunc(m.opts.delay, func() { m.onDelay(gen) })
}

func (m *Monitor) onDelay(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseActive {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.phase = PhaseWarning
	m.coord.Suspend()
	m.deadline = time.Now().Add(m.opts.countdown)
	m.remaining = m.opts.countdown
	gen = m.gen
	m.timer = time.AfterFunc(min(m.opts.tick, m.remaining), func() { m.onTick(gen) })
	remaining := m.remaining
	m.mu.Unlock()

	m.logger.Info("session timeout warning", "remaining", remaining)
	m.emit(Event{Phase: PhaseWarning, Remaining: remaining})
}

func (m *Monitor) onTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.phase != PhaseWarning {
		m.mu.Unlock()
		return
	}
	m.remaining = min(m.remaining, max(0, time.Until(m.deadline)))
	if m.remaining == 0 && !m.extending {
		m.mu.Unlock()
		m.end(ErrSessionExpired)
		return
	}
	// A spent countdown keeps ticking until the in-flight extend settles.
	next := m.opts.tick
	if m.remaining > 0 {
		next = min(next, m.remaining)
	}
	m.timer = time.AfterFunc(next, func() { m.onTick(gen) })
	remaining := m.remaining
	m.mu.Unlock()

	m.emit(Event{Phase: PhaseWarning, Remaining: remaining})
}

// end moves to PhaseExpired and logs out through the Coordinator.
func (m *Monitor) end(reason error) {
	m.mu.Lock()
	if m.phase == PhaseExpired {
		m.mu.Unlock()
		return
	}
	m.expireLocked()
	m.mu.Unlock()

	m.coord.Logout(reason)
	m.emit(Event{Phase: PhaseExpired, Err: reason})
}

func (m *Monitor) expireLocked() {
	m.gen++
	m.ends++
	m.stopTimerLocked()
	m.coord.Resume()
	m.phase = PhaseExpired
	m.remaining = 0
}

func (m *Monitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) emit(ev Event) {
	if m.opts.notify != nil {
		m.opts.notify(ev)
	}
}
