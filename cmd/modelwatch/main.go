package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/miradorstack/mirador-modelwatch/internal/api"
	"github.com/miradorstack/mirador-modelwatch/internal/cache"
	"github.com/miradorstack/mirador-modelwatch/internal/catalog"
	"github.com/miradorstack/mirador-modelwatch/internal/config"
	"github.com/miradorstack/mirador-modelwatch/internal/engine"
	"github.com/miradorstack/mirador-modelwatch/internal/events"
	"github.com/miradorstack/mirador-modelwatch/internal/metrics"
	"github.com/miradorstack/mirador-modelwatch/internal/models"
	"github.com/miradorstack/mirador-modelwatch/internal/patterns"
	"github.com/miradorstack/mirador-modelwatch/internal/repo"
	"github.com/miradorstack/mirador-modelwatch/internal/services"
	"github.com/miradorstack/mirador-modelwatch/internal/simulation"
	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

var patternsCacheKey = cache.Key("patterns")

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting modelwatch",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("storage", cfg.Storage.Backend),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("storage close", slog.Any("error", err))
		}
	}()

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	entries := cfg.Models
	if len(entries) == 0 {
		entries = catalog.Defaults(time.Now())
	}
	modelCatalog := catalog.New(entries)

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule table", slog.Any("error", err))
		os.Exit(1)
	}

	var sinks []events.Sink
	if sink, err := openSink(ctx, cfg.Events); err != nil {
		logger.Warn("event sink unavailable, publishing in-process only", slog.String("backend", cfg.Events.Backend), slog.Any("error", err))
	} else if sink != nil {
		sinks = append(sinks, sink)
	}
	bus := events.NewBus(logger, cfg.Events.Prefix, cfg.Events.Buffer, sinks...)
	defer bus.Close()

	svc, reporter := services.Wire(logger, store, modelCatalog, ruleEngine, bus, services.Options{
		Paging: services.Paging{
			Default:      cfg.API.DefaultPageSize,
			AuditDefault: cfg.API.AuditPageSize,
			Max:          cfg.API.MaxPageSize,
		},
		Cache:        cacheProvider,
		OverviewTTL:  cfg.Cache.OverviewTTL,
		PatternStore: cachedPatterns(cacheProvider, cfg.Cache.PatternsTTL),
	})

	invalidations, unsubscribe := bus.Subscribe(
		models.EventAlertCreated,
		models.EventAlertUpdated,
		models.EventAlertResolved,
		models.EventIncidentUpdated,
	)
	defer unsubscribe()
	go reporter.WatchInvalidations(ctx, invalidations)

	if cfg.Simulation.Enabled {
		sim := simulation.NewSimulator(logger, simulation.NewSampler(uint64(time.Now().UnixNano())), svc, modelCatalog, cfg.Simulation.Interval)
		go sim.Run(ctx)
	}

	server, err := api.NewEngineServer(cfg.Server, api.NewEngine(svc), logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      api.NewGateway(svc, logger).Router(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("http gateway listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http gateway exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Addr()))
		if serveErr := server.Serve(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DrainTimeout())
	defer cancel()
	server.Drain(shutdownCtx)

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http gateway shutdown", slog.Any("error", err))
		}
	}

	logger.Info("modelwatch stopped")
}

func openStore(ctx context.Context, cfg config.StorageConfig) (*repo.Store, error) {
	switch cfg.Backend {
	case "mongo":
		return repo.NewMongoStore(ctx, repo.MongoConfig{URI: cfg.URI, Database: cfg.Database, Timeout: cfg.Timeout})
	case "", "memory":
		return repo.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func openSink(ctx context.Context, cfg config.EventsConfig) (events.Sink, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return events.NewRedisSink(dialCtx, opts)
	case "nats":
		return events.NewNATSSink(cfg.URL)
	default:
		return nil, nil
	}
}

// cachedPatterns persists the latest mined hotspots under a single cache key.
func cachedPatterns(provider cache.Provider, ttl time.Duration) patterns.Store {
	return patterns.StoreFunc(func(ctx context.Context, mined []models.AlertPattern) error {
		data, err := json.Marshal(mined)
		if err != nil {
			return err
		}
		return provider.Set(ctx, patternsCacheKey, data, ttl)
	})
}
