package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chainvista/dlt-gateway/pkg/interfaces"
	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/monitoring"
)

// Service implements the blockchain-access gateway
type Service struct {
	router      *mux.Router
	server      *http.Server
	registry    *PolicyRegistry
	authGate    interfaces.AuthGate
	rateLimiter interfaces.RateLimiter
	cache       interfaces.ResponseCache
	dispatcher  interfaces.Dispatcher
	explorer    interfaces.LedgerExplorer
	conn        interfaces.ConnectionManager
	metrics     *monitoring.MetricsCollector
	logger      *logger.Logger
	startTime   time.Time
}

// Config holds the HTTP server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MetricsPath  string
}

// Deps bundles the injected collaborators
type Deps struct {
	Registry    *PolicyRegistry
	AuthGate    interfaces.AuthGate
	RateLimiter interfaces.RateLimiter
	Cache       interfaces.ResponseCache
	Dispatcher  interfaces.Dispatcher
	Explorer    interfaces.LedgerExplorer
	Connection  interfaces.ConnectionManager
	Metrics     *monitoring.MetricsCollector
	Logger      *logger.Logger
}

// NewService creates the gateway service and wires its routes
func NewService(config *Config, deps Deps) *Service {
	s := &Service{
		router:      mux.NewRouter(),
		registry:    deps.Registry,
		authGate:    deps.AuthGate,
		rateLimiter: deps.RateLimiter,
		cache:       deps.Cache,
		dispatcher:  deps.Dispatcher,
		explorer:    deps.Explorer,
		conn:        deps.Connection,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		startTime:   time.Now(),
	}

	s.setupRoutes(config.MetricsPath)
	s.setupMiddleware()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// setupRoutes sets up the routing. Operational endpoints are public; every
// other path goes through the policy pipeline.
func (s *Service) setupRoutes(metricsPath string) {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health/detailed", s.handleDetailedHealth).Methods(http.MethodGet)

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s.router.Handle(metricsPath, s.metrics.Handler()).Methods(http.MethodGet)

	s.router.PathPrefix("/").HandlerFunc(s.handleRequest)
}

// setupMiddleware sets up middleware
func (s *Service) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// Start starts the gateway HTTP server
func (s *Service) Start() error {
	s.logger.WithComponent("service").WithField("addr", s.server.Addr).Info("Starting gateway")
	return s.server.ListenAndServe()
}

// Stop gracefully stops the gateway HTTP server
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.WithComponent("service").Info("Stopping gateway")
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured router, primarily for tests
func (s *Service) Handler() http.Handler {
	return s.router
}
