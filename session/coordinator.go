package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Refresher exchanges a refresh token for new credentials. Implementations
// must not route the call through a Coordinator.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

// Coordinator guarantees at most one refresh call is outstanding. Callers
// that hit a 401 while a refresh is running wait in a FIFO queue and are
// released one at a time once it settles.
type Coordinator struct {
	store     *Store
	refresher Refresher
	opts      options
	logger    *slog.Logger

	mu         sync.Mutex
	refreshing bool
	suspended  bool
	queue      []*waiter
	refreshes  uint64
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	// Refreshes counts refresh network calls issued.
	Refreshes uint64
	// Waiting is the number of callers queued on the in-flight refresh,
	// including the caller that started it.
	Waiting int
	// Refreshing is true while a refresh is outstanding.
	Refreshing bool
}

type refreshResult struct {
	token string
	err   error
}

type waiter struct {
	result chan refreshResult
	// gone is closed by a caller that stopped waiting.
	gone chan struct{}
	// ack is closed by a released caller once it has dispatched its replay.
	ack chan struct{}
}

func newWaiter() *waiter {
	return &waiter{
		result: make(chan refreshResult),
		gone:   make(chan struct{}),
		ack:    make(chan struct{}),
	}
}

// Replay is handed to a caller released by a successful refresh.
type Replay struct {
	Token string
	once  *sync.Once
	ack   chan struct{}
}

// Dispatched tells the coordinator the replayed request has been sent so
// the next queued caller may proceed. Safe to call more than once.
func (r Replay) Dispatched() {
	if r.once != nil {
		r.once.Do(func() { close(r.ack) })
	}
}

func NewCoordinator(store *Store, refresher Refresher, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{
		store:     store,
		refresher: refresher,
		opts:      o,
		logger:    o.logger.With("component", "coordinator"),
	}
}

// Recover handles a 401 received by a request that has not been retried.
// used is the access token that request carried. If the stored token has
// already moved past it, Recover hands that token back without refreshing.
// Otherwise it starts a refresh or joins the one in flight and returns the
// token to replay with. The caller must call Replay.Dispatched once the
// replay is sent. On failure the starting caller gets cause joined with the
// refresh error and queued callers get the refresh error.
func (c *Coordinator) Recover(ctx context.Context, used string, cause error) (Replay, error) {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		return Replay{}, fmt.Errorf("%w: %w", ErrRefreshSuspended, cause)
	}
	if !c.refreshing {
		// A settled refresh saves before clearing the flag, so the store
		// is current here.
		if creds, err := c.store.Load(); err == nil && creds.AccessToken != used {
			c.mu.Unlock()
			c.logger.Debug("401 carried a replaced token, replaying with the current one")
			return Replay{Token: creds.AccessToken}, nil
		}
	}
	w, leader := c.enqueueLocked(ctx)
	c.mu.Unlock()

	res, err := c.wait(ctx, w)
	if err != nil {
		return Replay{}, err
	}
	if res.err != nil {
		if leader {
			return Replay{}, fmt.Errorf("%w: %w", cause, res.err)
		}
		return Replay{}, res.err
	}
	return Replay{Token: res.token, once: &sync.Once{}, ack: w.ack}, nil
}

// Refresh refreshes proactively, joining any refresh already in flight.
// It ignores Suspend so the Monitor can extend during the warning phase.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	w, _ := c.enqueueLocked(ctx)
	c.mu.Unlock()

	res, err := c.wait(ctx, w)
	if err != nil {
		return err
	}
	close(w.ack)
	return res.err
}

// Suspend makes Recover fail fast with ErrRefreshSuspended. A refresh
// already in flight is unaffected.
func (c *Coordinator) Suspend() {
	c.mu.Lock()
	c.suspended = true
	c.mu.Unlock()
}

func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.suspended = false
	c.mu.Unlock()
}

// Logout clears the stored credentials and invokes the logout hook.
func (c *Coordinator) Logout(reason error) error {
	err := c.store.Clear()
	if err != nil {
		c.logger.Error("clearing credentials failed", "error", err)
	}
	c.terminated(reason)
	return err
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Refreshes:  c.refreshes,
		Waiting:    len(c.queue),
		Refreshing: c.refreshing,
	}
}

// enqueueLocked adds a waiter and, if no refresh is running, starts one.
// The refreshing flag is set before the refresh goroutine exists.
func (c *Coordinator) enqueueLocked(ctx context.Context) (*waiter, bool) {
	w := newWaiter()
	c.queue = append(c.queue, w)
	if c.refreshing {
		c.logger.Debug("queued behind in-flight refresh", "waiting", len(c.queue))
		return w, false
	}
	c.refreshing = true
	go c.run(context.WithoutCancel(ctx))
	return w, true
}

func (c *Coordinator) wait(ctx context.Context, w *waiter) (refreshResult, error) {
	select {
	case res := <-w.result:
		return res, nil
	case <-ctx.Done():
		close(w.gone)
		return refreshResult{}, ctx.Err()
	}
}

func (c *Coordinator) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, c.opts.refreshTimeout)
	defer cancel()

	token, err := c.refresh(ctx)
	if err != nil {
		c.logger.Warn("token refresh failed, ending session", "error", err)
		if clearErr := c.store.Clear(); clearErr != nil {
			c.logger.Error("clearing credentials failed", "error", clearErr)
		}
	}

	c.mu.Lock()
	waiters := c.queue
	c.queue = nil
	c.refreshing = false
	c.mu.Unlock()

	if err != nil {
		c.terminated(err)
	}
	c.release(waiters, refreshResult{token: token, err: err})
}

func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	creds, err := c.store.Load()
	if errors.Is(err, ErrNoCredentials) {
		return "", ErrNoRefreshToken
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.refreshes++
	c.mu.Unlock()

	fresh, err := c.refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing session: %w", err)
	}
	if fresh.Username == "" {
		fresh.Username = creds.Username
	}
	if err := c.store.Save(fresh); err != nil {
		return "", fmt.Errorf("storing refreshed credentials: %w", err)
	}
	c.logger.Info("token refreshed", "username", fresh.Username, "role", fresh.Role)
	return fresh.AccessToken, nil
}

// release hands the result to each waiter in arrival order. On success the
// next waiter is released only after the previous one acknowledged its
// replay, bounded by the refresh timeout.
func (c *Coordinator) release(waiters []*waiter, res refreshResult) {
	for _, w := range waiters {
		select {
		case w.result <- res:
		case <-w.gone:
			continue
		}
		if res.err != nil {
			continue
		}
		select {
		case <-w.ack:
		case <-time.After(c.opts.refreshTimeout):
			c.logger.Warn("queued caller did not acknowledge replay")
		}
	}
}

func (c *Coordinator) terminated(reason error) {
	c.logger.Info("session ended", "reason", reason)
	if c.opts.onLogout != nil {
		c.opts.onLogout(reason)
	}
}
