package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/perpdex/keeper-gateway/internal/cache"
	"github.com/perpdex/keeper-gateway/internal/chains"
	"github.com/perpdex/keeper-gateway/internal/config"
	"github.com/perpdex/keeper-gateway/internal/fetch"
	"github.com/perpdex/keeper-gateway/internal/keeper"
	"github.com/perpdex/keeper-gateway/internal/logger"
	"github.com/perpdex/keeper-gateway/internal/poller"
	"github.com/perpdex/keeper-gateway/internal/redis"
	"github.com/perpdex/keeper-gateway/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	// .env is optional; deployments usually configure via the environment
	godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	// Cache backend: Redis when configured, in-memory otherwise. Entries
	// older than the stale TTL are useless to every caller, so that is the
	// retention bound.
	var store cache.Cache
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		store = cache.NewRedisCache(redisClient, cfg.Cache.StaleTTL())
	} else {
		store = cache.NewMemoryCache(cfg.Cache.StaleTTL())
	}
	defer store.Close()

	deployments, err := chains.Build(cfg.Chains)
	if err != nil {
		logrus.Fatalf("Invalid chain configuration: %v", err)
	}

	fetcher := fetch.NewClient(&http.Client{}, store, fetch.Options{
		Timeout:  cfg.Fetch.Timeout(),
		Backoff:  fetch.NewBackoff(cfg.Fetch.BackoffBase(), cfg.Fetch.BackoffMax()),
		FreshTTL: cfg.Cache.FreshTTL(),
		StaleTTL: cfg.Cache.StaleTTL(),
	}, nil)

	// Context for graceful shutdown of pollers and health checkers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients := make(map[string]*keeper.Client, len(deployments))
	checkers := make(map[string]*keeper.HealthChecker, len(deployments))
	manager := poller.NewManager(cfg.Poller.Interval())

	for name, deployment := range deployments {
		client := keeper.New(deployment, fetcher, cfg.Fetch.MaxRetries)
		clients[name] = client

		checker := keeper.NewHealthChecker(client, cfg.Health.Interval(), cfg.Health.Timeout())
		checker.Start(ctx)
		checkers[name] = checker

		if cfg.Poller.Enabled {
			if err := manager.AddChain(client); err != nil {
				logrus.Errorf("Failed to register chain %s for polling: %v", name, err)
			}
		}

		logrus.Infof("Added chain: %s (%d) with %d keeper URLs", name, deployment.ChainID, len(deployment.KeeperURLs))
	}

	if cfg.Poller.Enabled {
		manager.Start(ctx)
	}

	srv := server.New(cfg.Server, clients, checkers, manager)
	go func() {
		logrus.Infof("Starting HTTP server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logrus.Info("Shutting down keeper gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop background loops first so no new fetches start mid-drain
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	for _, checker := range checkers {
		checker.Stop()
	}
	manager.Wait()

	logrus.Info("Keeper gateway shutdown complete")
}
