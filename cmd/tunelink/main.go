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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"tunelink/internal/cache"
	"tunelink/internal/config"
	"tunelink/internal/handlers"
	"tunelink/internal/repositories"
	"tunelink/internal/services"
)

func main() {
	// Load .env file for local development
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Hot cache for provider API responses: Valkey when configured, an
	// in-process map otherwise.
	var hot cache.Cache
	if cfg.ValkeyURL != "" {
		hot, err = cache.NewValkey(cfg.ValkeyURL)
		if err != nil {
			slog.Error("Failed to connect to valkey", "error", err)
			os.Exit(1)
		}
	} else {
		hot = cache.NewMemory(0)
		slog.Info("VALKEY_URL not set, using in-memory hot cache")
	}
	defer hot.Close()

	var providers []services.ProviderService
	if cfg.AppleMusicEnabled() {
		apple, err := services.NewAppleMusicService(cfg.AppleKeyID, cfg.AppleTeamID, cfg.AppleKeyPath, hot)
		if err != nil {
			slog.Error("Failed to initialize apple music", "error", err)
			os.Exit(1)
		}
		providers = append(providers, apple)
	}
	if cfg.SpotifyEnabled() {
		providers = append(providers, services.NewSpotifyService(cfg.SpotifyClientID, cfg.SpotifyClientSecret, hot))
	}
	if cfg.TidalEnabled() {
		providers = append(providers, services.NewTidalService(cfg.TidalClientID, cfg.TidalClientSecret, hot))
	}

	resolver := services.NewResolutionService(providers, cfg.ParallelIdentifierLookup)

	healthChecks := map[string]handlers.HealthCheck{
		"hot_cache": hot.Health,
	}
	for _, p := range providers {
		healthChecks[string(p.Provider())] = p.Health
	}

	// Durable cache tier: the local link index plus the record store. Either
	// being unconfigured leaves the service in pass-through mode.
	var (
		index repositories.LinkIndex
		store repositories.RecordStore
	)
	if cfg.CacheEnabled() {
		index, err = repositories.NewSQLiteLinkIndex(cfg.CacheDBPath)
		if err != nil {
			slog.Error("Failed to open link index", "error", err)
			os.Exit(1)
		}
		defer index.Close()

		store = repositories.NewPDSRecordStore(cfg.BlueskyPDSURL, cfg.BlueskyIdentifier, cfg.BlueskyPassword)
		healthChecks["link_index"] = index.Health
		healthChecks["record_store"] = store.Health
	} else {
		slog.Info("Durable cache not configured, lookups are uncached")
	}

	facade := services.NewLookupFacade(resolver, index, store, cfg.CacheDays)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	lookupHandler := handlers.NewLookupHandler(facade, resolver)
	lookupHandler.RegisterRoutes(router)
	handlers.NewHealthHandler(healthChecks).RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port, "node", cfg.NodeNumber, "providers", len(providers))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Forced shutdown", "error", err)
	}
	slog.Info("Server stopped")
}
