package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you112ef/boltcache/auth"
	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/health"
	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/request"
)

// DefaultMaxBodySize bounds PUT bodies when Config leaves it unset.
const DefaultMaxBodySize int64 = 4 << 20

// Config holds listener settings.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// Option configures a Server.
type Option func(*Server)

// WithExecutor enables the fetch and request-cache routes.
func WithExecutor(e *request.Executor[[]byte]) Option {
	return func(s *Server) { s.executor = e }
}

// WithAuthenticator guards /api with authn. Without it /api is open.
func WithAuthenticator(authn auth.Authenticator) Option {
	return func(s *Server) { s.authn = authn }
}

// WithHealth registers the health probes of agg.
func WithHealth(agg *health.Aggregator) Option {
	return func(s *Server) { s.health = agg }
}

// WithInstrumentation wraps every route with m.
func WithInstrumentation(m *observe.Middleware) Option {
	return func(s *Server) { s.instr = m }
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the admin HTTP API over a byte-valued cache store and,
// optionally, a request executor.
type Server struct {
	cfg      Config
	store    *cache.Store[[]byte]
	executor *request.Executor[[]byte]
	authn    auth.Authenticator
	health   *health.Aggregator
	instr    *observe.Middleware
	gatherer prometheus.Gatherer
	logger   observe.Logger
	router   *mux.Router
}

// New creates a Server and registers its routes.
func New(cfg Config, store *cache.Store[[]byte], opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	s := &Server{cfg: cfg, store: store, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(observe.F("component", "server"))

	s.router = mux.NewRouter()
	s.RegisterRoutes(s.router)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// RegisterRoutes registers every route on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	if s.health != nil {
		health.RegisterHandlers(r, s.health)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", s.wrap("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))).
			Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.Middleware(s.authn, s.logger))

	s.route(api, "/stats", s.statsHandler, http.MethodGet)
	s.route(api, "/keys", s.keysHandler, http.MethodGet)
	s.route(api, "/cache", s.clearHandler, http.MethodDelete)
	s.route(api, "/cache/invalidate", s.invalidateHandler, http.MethodPost)
	s.route(api, "/cache/cleanup", s.cleanupHandler, http.MethodPost)
	s.route(api, "/cache/{key}", s.getHandler, http.MethodGet)
	s.route(api, "/cache/{key}", s.putHandler, http.MethodPut)
	s.route(api, "/cache/{key}", s.deleteHandler, http.MethodDelete)

	if s.executor != nil {
		s.route(api, "/fetch", s.fetchHandler, http.MethodGet)
		s.route(api, "/requests", s.clearRequestsHandler, http.MethodDelete)
	}
}

func (s *Server) route(r *mux.Router, path string, h http.HandlerFunc, method string) {
	r.Handle(path, s.wrap("/api/v1"+path, h)).Methods(method)
}

func (s *Server) wrap(route string, h http.Handler) http.Handler {
	if s.instr == nil {
		return h
	}
	return s.instr.Wrap(route, h)
}

// Run serves on cfg.ListenAddr until ctx is done, then shuts down within
// cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "server listening", observe.F("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "shutting down server")
	shutdownCtx := context.Background()
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
