package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcportal/gamebridge/bridge"
	"github.com/lcportal/gamebridge/config"
	"github.com/lcportal/gamebridge/db"
	"github.com/lcportal/gamebridge/legacydb"
	"github.com/lcportal/gamebridge/logger"
	"github.com/lcportal/gamebridge/ratelimit"
	"github.com/lcportal/gamebridge/server/linkapi"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gamebridge version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && *configPath == "config.toml" {
			// Default config missing is fine, run on defaults plus env.
			cfg = &config.Config{}
		} else {
			fmt.Fprintf(os.Stderr, "GAMEBRIDGE: failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "GAMEBRIDGE: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Infof("gamebridge starting (version %s, commit: %s, built: %s)", version, commit, date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Infof("Received signal: %s, shutting down...", sig)
		cancel()
	}()

	database, err := db.NewDatabase(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to portal database", "error", err)
	}
	defer database.Close()

	registry := legacydb.NewRegistry(cfg.LegacyPool)
	defer registry.CloseAll()
	registry.StartPoolMetrics(ctx, 30*time.Second)

	bootstrapServers(ctx, cfg, database)

	limiter, err := buildLimiter(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", "error", err)
	}
	limiter.Start()
	defer limiter.Stop()

	window, err := cfg.RateLimit.GetWindow()
	if err != nil {
		logger.Fatal("invalid rate limit window", "error", err)
	}
	queryTimeout, err := cfg.LegacyPool.GetQueryTimeout()
	if err != nil {
		logger.Fatal("invalid legacy query timeout", "error", err)
	}

	service := bridge.NewService(bridge.ServiceOptions{
		Links:   database,
		Servers: database,
		Legacy:  registry,
		Limiter: limiter,
		Audit:   bridge.NewStoreAuditSink(database, 5*time.Second),
		RateConfig: ratelimit.Config{
			Window:      window,
			MaxRequests: cfg.RateLimit.GetMaxRequests(),
		},
		QueryTimeout: queryTimeout,
	})

	errChan := make(chan error, 2)

	go linkapi.Start(ctx, linkapi.ServerOptions{
		Addr:         cfg.HTTP.Addr,
		APIKey:       cfg.HTTP.APIKey,
		AllowedHosts: nil,
		Service:      service,
		Servers:      database,
		Audit:        database,
		Health:       registry,
		Pools:        registry,
	}, errChan)

	if cfg.Metrics.Addr != "" {
		go startMetricsServer(ctx, cfg.Metrics, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown complete")
	case err := <-errChan:
		logger.Fatal("server failed", "error", err)
	}
}

// bootstrapServers seeds the administrative store from the TOML list and the
// SERVER{n}_* environment fallback. Entries already managed through the
// admin API are simply refreshed.
func bootstrapServers(ctx context.Context, cfg *config.Config, database *db.Database) {
	seeds := append([]config.LegacyServerConfig{}, cfg.LegacyServers...)
	seeds = append(seeds, config.LoadLegacyServersFromEnv()...)

	for _, seed := range seeds {
		server := &db.GameServer{
			ID:                  seed.ID,
			Name:                seed.Name,
			Region:              seed.Region,
			Host:                seed.Host,
			Port:                seed.Port,
			Database:            seed.Database,
			ROUser:              seed.User,
			ROPasswordEncrypted: seed.Password,
		}
		if err := database.UpsertServer(ctx, server); err != nil {
			logger.Warn("failed to bootstrap game server", "server_id", seed.ID, "error", err)
			continue
		}
		logger.Info("bootstrapped game server", "server_id", seed.ID, "name", seed.Name)
	}
}

// buildLimiter assembles the two-tier rate limiter: a shared Redis counter
// when one is configured, always backed by the in-process fallback.
func buildLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.Limiter, error) {
	sweepInterval, err := cfg.RateLimit.GetSweepInterval()
	if err != nil {
		return nil, fmt.Errorf("invalid sweep interval: %w", err)
	}
	fallback := ratelimit.NewLocalBackend(sweepInterval)

	var primary ratelimit.Backend
	var primaryTimeout time.Duration
	if cfg.Redis.Enabled() {
		primaryTimeout, err = cfg.Redis.GetTimeout()
		if err != nil {
			return nil, fmt.Errorf("invalid redis timeout: %w", err)
		}
		client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		if err != nil {
			// Fail open: the service stays up on the local fallback.
			logger.Warn("redis unreachable, rate limiting on local fallback only", "addr", cfg.Redis.Addr, "error", err)
		} else {
			primary = ratelimit.NewRedisBackend(client)
			logger.Info("rate limiting against shared redis backend", "addr", cfg.Redis.Addr)
		}
	} else {
		logger.Info("no redis configured, rate limiting on local fallback only")
	}

	return ratelimit.NewLimiter(primary, fallback, primaryTimeout), nil
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	mux := http.NewServeMux()
	mux.Handle(cfg.GetPath(), promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	logger.Info("Metrics server listening", "addr", cfg.Addr, "path", cfg.GetPath())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
