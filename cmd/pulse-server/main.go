package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/miradorstack/mirador-pulse/internal/api"
	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/cache"
	"github.com/miradorstack/mirador-pulse/internal/config"
	"github.com/miradorstack/mirador-pulse/internal/dashboard"
	"github.com/miradorstack/mirador-pulse/internal/generator"
	"github.com/miradorstack/mirador-pulse/internal/identity"
	"github.com/miradorstack/mirador-pulse/internal/metrics"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/poller"
	"github.com/miradorstack/mirador-pulse/internal/query"
	"github.com/miradorstack/mirador-pulse/internal/services"
	"github.com/miradorstack/mirador-pulse/internal/stream"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

func main() {
	var (
		configPath string
		httpAddr   string
		logLevel   string
	)
	flag.StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	flag.StringVar(&httpAddr, "http-address", "", "Override the HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-pulse",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("grpc_address", cfg.Server.GRPCAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	policy, err := authz.LoadPolicy(cfg.Policy.Path)
	if err != nil {
		logger.Error("failed to load policy", slog.String("path", cfg.Policy.Path), slog.Any("error", err))
		os.Exit(1)
	}

	directory := identity.NewDirectory(identity.DemoUsers)
	defaultUser, ok := directory.Lookup(cfg.Identity.DefaultUser)
	if !ok {
		logger.Error("unknown default user", slog.String("user", cfg.Identity.DefaultUser))
		os.Exit(1)
	}
	resolver := identity.NewResolver(defaultUser, directory, cfg.Identity.AllowOverride)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheProvider := newCacheProvider(ctx, cfg.Cache, logger)
	defer cacheProvider.Close()

	gen := generator.New(generator.Options{Seed: cfg.Generator.Seed})
	router := query.NewRouter(policy, gen)

	var svc *services.DashboardService
	hub := stream.NewHub(ctx, logger, func(u models.User, snap models.DashboardSnapshot) (any, bool) {
		return svc.RenderForStream(u, snap)
	})
	feed := dashboard.NewFeed(gen, dashboard.Options{
		OverviewInterval:    cfg.Feed.OverviewInterval,
		PerformanceInterval: cfg.Feed.PerformanceInterval,
		TraceInterval:       cfg.Feed.TraceInterval,
		AnomalyInterval:     cfg.Feed.AnomalyInterval,
		PerformanceHistory:  cfg.Feed.PerformanceHistory,
		TraceHistory:        cfg.Feed.TraceHistory,
		AnomalyHistory:      cfg.Feed.AnomalyHistory,
	}, func(snap models.DashboardSnapshot) {
		if err := hub.Publish(snap); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("publish snapshot", slog.Any("error", err))
		}
	}, logger)
	svc = services.NewDashboardService(logger, router, policy, gen, feed, services.Options{
		Cache:       cacheProvider,
		ResponseTTL: cfg.Cache.ResponseTTL,
	})
	go hub.Run()

	scheduler := poller.NewScheduler(logger)
	for _, task := range feed.Tasks() {
		if err := scheduler.Add(task); err != nil {
			logger.Error("failed to register feed task", slog.String("task", task.Name), slog.Any("error", err))
			os.Exit(1)
		}
	}
	scheduler.OnFire(func(name string, err error) {
		if err == nil {
			metrics.ObserveFeedRefresh(name)
		}
	})
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start feed scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(svc, hub, api.HTTPOptions{
		Logger:             logger,
		Resolver:           resolver,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		TrustProxyHeaders:  cfg.Server.TrustProxyHeaders,
		ResponseTTL:        cfg.Cache.ResponseTTL,
		StaleTTL:           cfg.Cache.StaleTTL,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	var grpcServer *api.Server
	if cfg.Server.GRPCAddress != "" {
		grpcServer, err = api.NewServer(cfg.Server, api.NewGRPCService(logger, svc, resolver))
		if err != nil {
			logger.Error("failed to create gRPC server", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc server listening", slog.String("address", grpcServer.Address()))
			if serveErr := grpcServer.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	scheduler.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	hub.Stop()
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}

	logger.Info("mirador-pulse stopped", slog.Duration("query_p95", svc.LatencyP95()))
}

func newCacheProvider(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr == "" {
		logger.Info("using in-process response cache", slog.Duration("ttl", cfg.ResponseTTL))
		return cache.NewMemoryProvider(cfg.MaxEntries, cfg.ResponseTTL)
	}
	provider, err := cache.NewValkeyProvider(ctx, cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("valkey cache unavailable, falling back to in-process cache", slog.Any("error", err))
		return cache.NewMemoryProvider(cfg.MaxEntries, cfg.ResponseTTL)
	}
	return provider
}
