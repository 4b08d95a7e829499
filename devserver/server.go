// Package devserver is a self-contained collection backend for local
// development and end-to-end tests. It serves the same REST surface the
// console talks to: login and refresh, sensors, capture jobs, the network
// topology, per-user preferences, and the admin endpoints.
package devserver

import (
	"crypto/rand"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTTL  = 5 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour

	sweepInterval = time.Minute
)

// Version is reported by /health.
var Version = "dev"

//go:embed openapi.yaml
var openapiSpec []byte

// Server holds the dev backend's state.
type Server struct {
	users    *userStore
	tokens   *tokenService
	data     *dataset
	userRL   *loginLimiter
	ipRL     *loginLimiter
	ring     *logRing
	metrics  *metricsCollector
	audit    *auditLogger
	logger   *slog.Logger
	started  time.Time
	stopCh   chan struct{}
	stopOnce sync.Once

	accessTTL  time.Duration
	refreshTTL time.Duration
	signingKey []byte
	bcryptCost int
	alertFn    AlertFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to JSON on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAccessTTL sets how long access tokens are valid.
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithRefreshTTL sets how long refresh tokens are valid.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *Server) { s.refreshTTL = d }
}

// WithSigningKey sets the HS256 key for access tokens. A random key is
// generated when none is given, so tokens do not survive a restart.
func WithSigningKey(key []byte) Option {
	return func(s *Server) { s.signingKey = key }
}

// WithAlertFunc registers a callback for anomaly alerts.
func WithAlertFunc(fn AlertFunc) Option {
	return func(s *Server) { s.alertFn = fn }
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Server) { s.bcryptCost = cost }
}

// New creates a Server with no users. Call Close to stop the background
// sweeper.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		bcryptCost: bcrypt.DefaultCost,
		started:    time.Now(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if len(s.signingKey) == 0 {
		s.signingKey = make([]byte, 32)
		if _, err := rand.Read(s.signingKey); err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
	}
	if s.accessTTL <= 0 || s.refreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}

	s.users = newUserStore(s.bcryptCost)
	s.tokens = newTokenService(s.signingKey, s.accessTTL, s.refreshTTL)
	s.data = newDataset(s.started)
	s.userRL = newLoginLimiter(usernamePolicy)
	s.ipRL = newLoginLimiter(ipPolicy)
	s.ring = newLogRing(defaultLogRingSize)
	s.metrics = newMetricsCollector(s.alertFn)
	s.audit = newAuditLogger(s.logger, s.ring, s.metrics)

	go s.sweepLoop()
	return s, nil
}

// AddUser creates an account. role is "user" or "admin".
func (s *Server) AddUser(username, password, role string) (User, error) {
	rec, err := s.users.create(username, password, role)
	if err != nil {
		return User{}, err
	}
	s.ring.add(slog.LevelInfo, "users", "created "+rec.Username)
	return rec.public(), nil
}

// Close stops the background sweeper. It is safe to call more than once.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Server) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.tokens.sweep()
			s.userRL.sweep()
			s.ipRL.sweep()
		}
	}
}

// Router returns the API routes relative to /api/v1.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/login", s.Login)
	r.Post("/refresh", s.Refresh)
	r.Get("/health", s.Health)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Get("/sensors", s.ListSensors)
		r.Get("/sensors/{sensorID}", s.GetSensor)

		r.Get("/jobs", s.ListJobs)
		r.Post("/jobs", s.SubmitJob)
		r.Get("/jobs/{jobID}", s.GetJob)
		r.Post("/jobs/{jobID}/cancel", s.CancelJob)

		r.Get("/network/topology", s.Topology)

		r.Get("/preferences", s.GetPreferences)
		r.Put("/preferences", s.UpdatePreferences)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/cache/clear", s.ClearCache)
			r.Get("/logs", s.Logs)
			r.Get("/users", s.ListUsers)
			r.Post("/users", s.CreateUser)
			r.Delete("/users/{userID}", s.DeleteUser)
		})
	})

	return r
}

// Handler returns the full server handler with the API mounted at /api/v1.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(s.requestLog)
	r.Mount("/api/v1", s.Router())
	return r
}
