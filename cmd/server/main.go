package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stockia/backend/internal/cache"
	"stockia/backend/internal/config"
	"stockia/backend/internal/events"
	"stockia/backend/internal/gateway"
	"stockia/backend/internal/httpapi"
	"stockia/backend/internal/logging"
	"stockia/backend/internal/service"
	"stockia/backend/internal/store"
	"stockia/backend/internal/store/memory"
	pgstore "stockia/backend/internal/store/postgres"
	"stockia/backend/internal/store/redisstore"
	"stockia/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		Development: cfg.Development(),
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		repo     store.Repository
		registry store.PublicationStore
	)
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo, registry = pg, pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		mem := memory.New()
		repo, registry = mem, mem
		logger.Info("repository: in-memory")
	}

	var quotaKV store.KeyValue
	referenceCache := cache.ReferenceImageCache(cache.NoopReferenceImageCache{})
	if cfg.RedisAddr != "" {
		client := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		rs := redisstore.New(client)
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, falling back to local stores", zap.Error(err))
			_ = rs.Close()
		} else {
			quotaKV, registry = rs, rs
			referenceCache = cache.NewRedisReferenceImageCache(client)
			closers = append(closers, rs.Close)
			logger.Info("quota ledger, publications and reference cache: redis")
		}
	}
	if quotaKV == nil {
		kv, err := sqlite.Open(ctx, cfg.QuotaDBPath)
		if err != nil {
			logger.Fatal("quota ledger store unavailable", zap.String("path", cfg.QuotaDBPath), zap.Error(err))
		}
		quotaKV = kv
		closers = append(closers, kv.Close)
		logger.Info("quota ledger: sqlite", zap.String("path", cfg.QuotaDBPath))
	}

	publisher := events.Publisher(events.Noop{})
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = kp
		closers = append(closers, kp.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	analyzer := gateway.New(gateway.Config{
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		BaseURL:        cfg.GeminiBaseURL,
		SearchAPIKey:   cfg.ImageSearchAPIKey,
		SearchEngineID: cfg.ImageSearchEngineID,
		SearchBaseURL:  cfg.ImageSearchBaseURL,
		Timeout:        time.Duration(cfg.GatewayTimeoutSeconds) * time.Second,
		Cache:          referenceCache,
		CacheTTL:       time.Duration(cfg.ReferenceCacheTTLMinutes) * time.Minute,
		Logger:         logger,
	})
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; analyses will fail with a missing credential")
	}

	svc := service.New(service.Config{
		Repo:              repo,
		QuotaKV:           quotaKV,
		Registry:          registry,
		Analyzer:          analyzer,
		Publisher:         publisher,
		FreeAnalyses:      cfg.FreeAnalyses,
		RegistrationBonus: cfg.RegistrationBonus,
		PromptDelay:       time.Duration(cfg.PromptDelayMS) * time.Millisecond,
		ShareTTL:          time.Duration(cfg.ShareTTLHours) * time.Hour,
		Logger:            logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	// Analyses can take up to the gateway timeout, so the write deadline sits above it.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Duration(cfg.GatewayTimeoutSeconds)*time.Second*2 + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("stockia backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	svc.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// validateSecurityConfig lets development run with the built-in secret.
func validateSecurityConfig(cfg config.Config) error {
	if cfg.Development() {
		return nil
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin outside development")
	}
	return nil
}
