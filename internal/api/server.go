package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/command"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-grow/internal/location"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
	"github.com/nerrad567/gray-logic-grow/internal/targets"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a component reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Engine   config.EngineConfig
	Logger   *logging.Logger

	Recipes  *recipe.Catalog
	Cycles   *growcycle.Service
	Targets  *targets.Resolver
	Commands *command.Tracker
	Places   location.Repository
	Audit    audit.Repository
	Authz    auth.Authorizer

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Health lists named dependencies checked by /health.
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	engineCfg config.EngineConfig
	logger    *logging.Logger
	recipes   *recipe.Catalog
	cycles    *growcycle.Service
	targets   *targets.Resolver
	commands  *command.Tracker
	places    location.Repository
	auditRepo audit.Repository
	authz     auth.Authorizer
	metrics   http.Handler
	health    map[string]HealthChecker
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Recipes == nil || deps.Cycles == nil || deps.Targets == nil || deps.Commands == nil {
		return nil, fmt.Errorf("recipe catalog, cycle service, resolver and command tracker are required")
	}
	if deps.Places == nil {
		return nil, fmt.Errorf("location repository is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	authz := deps.Authz
	if authz == nil {
		authz = auth.CapabilityAuthorizer{}
	}

	return &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		engineCfg: deps.Engine,
		logger:    deps.Logger,
		recipes:   deps.Recipes,
		cycles:    deps.Cycles,
		targets:   deps.Targets,
		commands:  deps.Commands,
		places:    deps.Places,
		auditRepo: deps.Audit,
		authz:     authz,
		metrics:   deps.Metrics,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
