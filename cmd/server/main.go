package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/creditforge/backend/internal/config"
	"github.com/creditforge/backend/internal/database"
	"github.com/creditforge/backend/internal/generator"
	"github.com/creditforge/backend/internal/handlers"
	"github.com/creditforge/backend/internal/logging"
	"github.com/creditforge/backend/internal/services"
)

func main() {
	cfg, cfgErr := config.Load(viper.New())
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if cfgErr != nil {
		logger.WithError(cfgErr).Info("Config file not found, using environment and defaults")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := database.InitRedis(cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, closeStore, err := database.Open(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open collection store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("Failed to close collection store")
		}
	}()
	cols := database.NewCollections(store)

	ids, err := services.NewIDGenerator(1)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize id generator")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)

	var blacklist services.TokenBlacklist = services.NewMemoryBlacklist()
	if redisClient != nil {
		blacklist = services.NewRedisBlacklist(redisClient)
	}

	ledger := services.NewCreditLedger(cols, ids, metrics, logger)
	audit := services.NewAuditService(cols.Audit, cfg.Audit.Capacity, ids, logger)
	stats := services.NewAggregationService(cols.Content, ledger, logger)
	history := services.NewHistoryService(cols.Content, stats, logger)
	identity := services.NewIdentityResolver(cols.Accounts, cfg.JWT, blacklist)
	accounts := services.NewAccountService(cols.Accounts, ledger, identity, audit, cfg, logger)

	client := generator.NewClient(newProvider(cfg.Generation, logger), generator.Options{
		Timeout:    cfg.Generation.Timeout,
		MaxRetries: cfg.Generation.MaxRetries,
	}, logger)
	generation := services.NewGenerationService(
		cols.Content, ledger, services.NewPriceTable(cfg.Credits), client,
		stats, audit, ids, metrics, logger,
	)

	reaper := services.NewReaper(ledger, cols.Content, generation, stats, cfg.Reaper.Interval, cfg.Reaper.MaxAge, metrics, logger)
	go reaper.Run(ctx)

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: handlers.NewRouter(handlers.Deps{
			Identity:       identity,
			Accounts:       accounts,
			Ledger:         ledger,
			Generation:     generation,
			Stats:          stats,
			History:        history,
			Audit:          audit,
			Gatherer:       reg,
			Logger:         logger,
			RequestTimeout: cfg.Generation.Timeout * 2,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Generation.Timeout*2 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Jobs still running own open reservations; let them settle before the
	// store goes away. Anything left is picked up by the reaper next start.
	if err := generation.Wait(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Generation jobs still running at shutdown")
	}

	logger.Info("Server stopped")
}

func newProvider(cfg config.GenerationConfig, logger logrus.FieldLogger) generator.Provider {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			logger.Fatal("GENERATION_API_KEY is required for the openai provider")
		}
		return generator.NewOpenAIProvider(generator.OpenAIConfig{
			APIURL: cfg.APIURL,
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})
	default:
		return generator.NewTemplateProvider(cfg.SimulatedDelay)
	}
}
