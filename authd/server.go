// Package authd serves a GoTrue compatible auth API over a local identity
// authority, plus the admin endpoints used to approve registrations.
package authd

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/identity"
	"github.com/goliatone/go-hostel/identity/local"
	"github.com/goliatone/go-hostel/metrics"
	"github.com/goliatone/go-hostel/profiles"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authority issues and verifies sessions.
type Authority interface {
	identity.Backend
	User(ctx context.Context, accessToken string) (*hostel.SessionUser, *local.Claims, error)
}

// ProfileAdmin is the profile store surface the admin endpoints need.
type ProfileAdmin interface {
	FetchProfileByID(ctx context.Context, id string) (*hostel.UserProfile, error)
	ListProfiles(ctx context.Context, filter profiles.ListFilter) ([]*hostel.UserProfile, error)
	SetApproval(ctx context.Context, id string, status hostel.ApprovalStatus, reason string) (*hostel.UserProfile, error)
}

var (
	_ Authority    = (*local.Authority)(nil)
	_ ProfileAdmin = (*profiles.Store)(nil)
)

// Option customizes a Server.
type Option func(*Server)

// WithLogger overrides the logger.
func WithLogger(logger hostel.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.loggerProvider, s.logger = hostel.ResolveLogger("hostel.authd", nil, logger)
		}
	}
}

// WithLoggerProvider resolves the "hostel.authd" logger from provider.
func WithLoggerProvider(provider hostel.LoggerProvider) Option {
	return func(s *Server) {
		s.loggerProvider, s.logger = hostel.ResolveLogger("hostel.authd", provider, s.logger)
	}
}

// WithMetrics records request metrics in collector and serves gatherer on
// /metrics.
func WithMetrics(collector *metrics.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = collector
		s.gatherer = gatherer
	}
}

// WithRateLimit allows perSecond requests per client address on the auth
// endpoints, with bursts up to burst. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newLimiter(perSecond, burst, 5*time.Minute)
	}
}

// Server is the auth daemon.
type Server struct {
	app       *fiber.App
	authority Authority
	profiles  ProfileAdmin

	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	limiter  *limiter

	logger         hostel.Logger
	loggerProvider hostel.LoggerProvider
}

// New builds the fiber app and its routes.
func New(authority Authority, store ProfileAdmin, opts ...Option) *Server {
	provider, logger := hostel.ResolveLogger("hostel.authd", nil, nil)
	s := &Server{
		authority:      authority,
		profiles:       store,
		logger:         logger,
		loggerProvider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "hostel-authd",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("auth daemon listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(s.instrument)

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/auth/v1", s.rateLimit)
	api.Post("/signup", s.signUp)
	api.Post("/token", s.token)
	api.Post("/logout", s.logout)
	api.Get("/user", s.requireSession, s.user)

	admin := s.app.Group("/admin", s.rateLimit, s.requireSession, s.requireAdmin)
	admin.Get("/profiles", s.listProfiles)
	admin.Patch("/profiles/:id/approval", s.setApproval)
}

// instrument records request metrics and runs the error handler itself so
// the final status is known.
func (s *Server) instrument(c *fiber.Ctx) error {
	var done func(method, route string, status int)
	if s.metrics != nil {
		done = s.metrics.StartRequest()
	}

	if err := c.Next(); err != nil {
		if herr := s.errorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	status := c.Response().StatusCode()
	s.logger.Debug("request", "method", c.Method(), "path", c.Path(), "status", status)
	if done != nil {
		done(c.Method(), c.Route().Path, status)
	}
	return nil
}

func (s *Server) rateLimit(c *fiber.Ctx) error {
	if s.limiter != nil && !s.limiter.allow(c.IP()) {
		return hostel.ErrRateLimited
	}
	return c.Next()
}
