// Package main is the entrypoint for the Entitled licensing server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/api"
	"github.com/vantagehr/entitled/internal/config"
	"github.com/vantagehr/entitled/internal/db"
	"github.com/vantagehr/entitled/internal/license"
	"github.com/vantagehr/entitled/internal/maintenance"
	"github.com/vantagehr/entitled/internal/subscription"
	"github.com/vantagehr/entitled/internal/usage"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Entitled server")

	// Load configuration
	cfg, err := config.LoadServerConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		return 1
	}

	// Connect to database
	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// Load and validate the license. Startup without a valid license is
	// not allowed.
	licenseCache, err := license.NewCache(
		license.FileSource{Path: cfg.LicensePath},
		[]byte(cfg.MasterKey),
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load license")
		return 1
	}
	mode := licenseCache.Current().Mode
	logger.Info().Str("mode", string(mode)).Msg("License loaded")

	// On-prem deployments meter quota against a local ledger. The ledger
	// is opened in every mode so a reload that switches the license from
	// cloud to on-prem keeps metering without a restart. Retention purges
	// usage counters from long-closed billing periods out of whichever
	// store meters this deployment.
	sqliteLedger, err := usage.OpenSQLiteLedger(cfg.UsageDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open usage ledger")
		return 1
	}
	defer sqliteLedger.Close()
	retentionStore := maintenance.RetentionStore(database)
	if mode == license.ModeOnPrem {
		retentionStore = sqliteLedger
	}

	gate := license.NewGate(licenseCache, database, database, sqliteLedger, logger)
	manager := subscription.NewManager(database, licenseCache, logger)

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    cfg.CORSOrigins,
		AdminToken:        cfg.AdminToken,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitPeriod:   cfg.RateLimitPeriod,
		RedisURL:          cfg.RedisURL,
	}

	router, err := api.NewRouter(routerCfg, database, licenseCache, gate, manager, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start periodic license revalidation
	var revalidation *maintenance.RevalidationScheduler
	if cfg.RevalidateCron != "" {
		revalidation = maintenance.NewRevalidationScheduler(licenseCache, cfg.RevalidateCron, logger)
		if err := revalidation.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start license revalidation scheduler")
		}
		defer revalidation.Stop()
	}

	// Start usage counter retention cleanup
	retention := maintenance.NewRetentionScheduler(retentionStore, cfg.UsageRetentionMonths, logger)
	if err := retention.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start usage retention scheduler")
	}
	defer retention.Stop()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped")
	return 0
}
