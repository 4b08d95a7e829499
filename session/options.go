package session

import (
	"log/slog"
	"time"
)

const (
	DefaultRefreshTimeout = 15 * time.Second
	DefaultInactivity     = 15 * time.Minute
	DefaultCountdown      = time.Minute
	DefaultTick           = time.Second
)

// LogoutFunc is called once each time a session is terminated, after the
// stored credentials have been cleared.
type LogoutFunc func(reason error)

type options struct {
	logger         *slog.Logger
	onLogout       LogoutFunc
	refreshTimeout time.Duration
	delay          time.Duration
	countdown      time.Duration
	tick           time.Duration
	notify         func(Event)
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		refreshTimeout: DefaultRefreshTimeout,
		delay:          DefaultInactivity,
		countdown:      DefaultCountdown,
		tick:           DefaultTick,
	}
}

// Option configures a Coordinator or Monitor.
type Option func(*options)

// WithLogger sets the structured logger. Tokens are never logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogoutFunc sets the hook invoked when the session is terminated.
func WithLogoutFunc(fn LogoutFunc) Option {
	return func(o *options) {
		o.onLogout = fn
	}
}

// WithRefreshTimeout bounds each refresh call independently of the
// callers waiting on it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshTimeout = d
		}
	}
}

// WithTimeouts overrides the Monitor timings. Zero values keep the defaults.
func WithTimeouts(delay, countdown, tick time.Duration) Option {
	return func(o *options) {
		if delay > 0 {
			o.delay = delay
		}
		if countdown > 0 {
			o.countdown = countdown
		}
		if tick > 0 {
			o.tick = tick
		}
	}
}

// WithNotify registers a callback for Monitor phase changes and countdown
// ticks. It is called without any Monitor lock held.
func WithNotify(fn func(Event)) Option {
	return func(o *options) {
		o.notify = fn
	}
}
