package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/atomic"

	"github.com/you112ef/boltcache/auth"
	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/config"
	"github.com/you112ef/boltcache/health"
	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/persist"
	"github.com/you112ef/boltcache/request"
	"github.com/you112ef/boltcache/server"
)

// app owns every long-lived component of a serve process.
type app struct {
	cfg      *config.Config
	obs      observe.Observer
	logger   observe.Logger
	storage  persist.Storage
	store    *cache.Store[[]byte]
	executor *request.Executor[[]byte]
	server   *server.Server
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	oc := cfg.Observability.ToObserve(Version)
	oc.Output = os.Stderr
	oc.Registerer = reg
	if a.obs, err = observe.NewObserver(ctx, oc); err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}
	a.logger = a.obs.Logger()

	if a.storage, err = cfg.Persistence.OpenStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Persistence.Backend, err)
	}

	// the size gauge reads the store, which needs the metrics first
	var storeRef atomic.Pointer[cache.Store[[]byte]]
	metrics, err := observe.NewCacheMetrics(a.obs.Meter(), cfg.Cache.Namespace, func() (int64, int64) {
		if s := storeRef.Load(); s != nil {
			return s.Size()
		}
		return 0, 0
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}

	opts := []cache.Option{cache.WithLogger(a.logger), cache.WithMetrics(metrics)}
	if a.storage != nil {
		opts = append(opts, cache.WithBacking(
			cfg.Persistence.Backing(a.storage, cfg.Cache.Namespace, a.logger, metrics)))
	}
	if a.store, err = cache.New(cfg.Cache.ToCache(a.storage != nil), cache.BytesCodec{}, opts...); err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	storeRef.Store(a.store)

	if a.storage != nil {
		n := a.store.Warm(ctx)
		a.logger.Info(ctx, "cache warmed from storage",
			observe.F("backend", cfg.Persistence.Backend), observe.F("loaded", n))
	}

	srvOpts := []server.Option{server.WithLogger(a.logger), server.WithGatherer(reg)}

	if cfg.Request.Upstream.BaseURL != "" {
		fetcher, err := request.NewHTTPFetcher(cfg.Request.ToHTTP(), cache.BytesCodec{})
		if err != nil {
			return nil, err
		}
		a.executor, err = request.New(a.store, fetcher, cfg.Request.ToRequest(),
			request.WithLogger(a.logger),
			request.WithTracer(a.obs.Tracer()),
			request.WithMeter(a.obs.Meter()))
		if err != nil {
			return nil, fmt.Errorf("failed to create request executor: %w", err)
		}
		srvOpts = append(srvOpts, server.WithExecutor(a.executor))
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if authn != nil {
		srvOpts = append(srvOpts, server.WithAuthenticator(authn))
	} else {
		a.logger.Warn(ctx, "admin API authentication is disabled")
	}

	agg := health.NewAggregator(health.AggregatorConfig{})
	agg.Register(
		health.NewCacheChecker("cache", a.store, health.Thresholds{}),
		health.NewMemoryChecker(health.MemoryCheckerConfig{}),
	)
	if a.storage != nil {
		agg.Register(health.NewStorageChecker("storage", a.storage, cfg.Cache.Namespace))
	}
	srvOpts = append(srvOpts, server.WithHealth(agg))

	instr, err := observe.MiddlewareFromObserver(a.obs)
	if err != nil {
		return nil, fmt.Errorf("failed to create http instrumentation: %w", err)
	}
	srvOpts = append(srvOpts, server.WithInstrumentation(instr))

	a.server, err = server.New(server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodySize:     cfg.Server.MaxBodySize.Int64(),
	}, a.store, srvOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// run serves until ctx is done and then releases everything.
func (a *app) run(ctx context.Context) error {
	a.logger.Info(ctx, "starting boltcache",
		observe.F("version", Version),
		observe.F("addr", a.cfg.Server.ListenAddr),
		observe.F("max_size", a.cfg.Cache.MaxSize.String()),
		observe.F("persistence", a.cfg.Persistence.Backend))

	serveErr := a.server.Run(ctx)

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(serveErr, a.close(closeCtx))
}

// close releases components in reverse order of construction.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.executor != nil {
		errs = append(errs, a.executor.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	if a.obs != nil {
		a.logger.Info(ctx, "server stopped")
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
