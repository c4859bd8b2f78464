package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"vanish.share/config"
	"vanish.share/internal/analytics"
	"vanish.share/internal/api"
	"vanish.share/internal/engine"
	"vanish.share/internal/models"
	"vanish.share/internal/policy"
	"vanish.share/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := initStore(ctx, cfg)
	if err != nil {
		logger.Error("store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	policyCache := policy.NewCache(st, policyDefaults(cfg), cfg.PolicyRefresh(), logger)
	if err := policyCache.Bootstrap(ctx); err != nil {
		logger.Error("policy bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	go policyCache.Run(ctx)

	var recorder *analytics.Recorder
	if cfg.Analytics.Enabled {
		recorder = analytics.NewRecorder(st, cfg.Analytics.Salt, cfg.StoreTimeout(), logger)
	}

	gate := engine.NewAccessGate(st, policyCache, logger)
	eng := engine.New(st, gate, engine.Limits{
		TTLOptions:          cfg.TTLOptions(),
		DefaultTTL:          cfg.DefaultTTL(),
		MaxViewsLimit:       cfg.Secrets.MaxViewsLimit,
		EnableBurnAfterTime: cfg.Secrets.EnableBurnAfterTime,
		StoreTimeout:        cfg.StoreTimeout(),
	}, recorder, logger)

	sweeper := engine.NewExpirySweeper(st, cfg.SweepInterval(), cfg.StoreTimeout(), logger)
	go sweeper.Run(ctx)

	router := api.SetupRouter(eng, policyCache, cfg, logger)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.Addr()),
			slog.String("base_url", cfg.Server.BaseURL),
			slog.String("store", cfg.Store.Type),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "redis":
		return store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.Postgres.URL)
	default:
		return store.NewMemoryStore(), nil
	}
}

func policyDefaults(cfg *config.Config) models.PolicySettings {
	return models.PolicySettings{
		ReadOnly:                   cfg.Policy.ReadOnly,
		DisableUsers:               cfg.Policy.DisableUsers,
		DisableUserAccountCreation: cfg.Policy.DisableUserAccountCreation,
		DisableFileUpload:          cfg.Policy.DisableFileUpload,
		HideAllowedIPInput:         cfg.Policy.HideAllowedIPInput,
		RestrictOrganizationEmail:  cfg.Policy.RestrictOrganizationEmail,
	}
}
