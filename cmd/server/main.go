package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio_link/internal/auth"
	"portfolio_link/internal/cache"
	"portfolio_link/internal/clients/gemini"
	"portfolio_link/internal/config"
	"portfolio_link/internal/dashboard"
	"portfolio_link/internal/database"
	"portfolio_link/internal/demo"
	"portfolio_link/internal/handlers"
	"portfolio_link/internal/link/consent"
	"portfolio_link/internal/logging"
	"portfolio_link/internal/middleware"
	"portfolio_link/internal/repository"
	"portfolio_link/internal/services"
	"portfolio_link/internal/sync"
	"portfolio_link/internal/syncclient"
)

func main() {
	// Load configuration
	cfg, err := config.Load(getEnv("LINK_CONFIG", "config.toml"))
	if err != nil {
		logging.New("info", "console").Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	// Initialize database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database migrations completed")

	// Create repositories
	holdingRepo := repository.NewHoldingRepository(db)
	institutionRepo := repository.NewLinkedInstitutionRepository(db)
	syncHistoryRepo := repository.NewSyncHistoryRepository(db)
	diagnosticRepo := repository.NewDiagnosticRepository(db)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	authMiddleware := middleware.NewAuthMiddleware(tokens, logger)

	// In demo mode the backend functions are served in-process and requests
	// without a bearer token act as the demo user.
	var demoBackend *demo.Backend
	if cfg.DemoMode {
		demoBackend = demo.NewBackend(nil, logger)
		seeder := demo.NewSeeder(holdingRepo, institutionRepo, demoBackend, logger)
		if err := seeder.SeedIfEmpty(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to seed demo data")
		}

		demoToken, err := tokens.Issue(demo.UserID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to issue demo token")
		}
		authMiddleware.WithDemoUser(demo.Credentials(demoToken))
		cfg.Functions.BaseURL = "http://" + cfg.Address() + "/functions"
		logger.Info().Str("functions_url", cfg.Functions.BaseURL).Msg("Demo mode enabled")
	}

	// Create sync service
	client := syncclient.New(syncclient.Config{
		BaseURL:   cfg.Functions.BaseURL,
		Timeout:   cfg.Functions.GetTimeout(),
		RateLimit: cfg.Functions.RateLimit,
	}, holdingRepo, logger)
	syncService := sync.NewService(client, syncHistoryRepo, logger)

	// Create consent bridge
	signer, err := consent.NewSigner(cfg.Consent.StateSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid consent state secret")
	}
	hosted := consent.NewHosted(signer, cfg.Consent.PublicURL, logger)

	// Create analysis service. Without an API key only cached analysis is served.
	var generator services.Generator
	if cfg.Analysis.GeminiAPIKey != "" {
		gc, err := gemini.NewClient(context.Background(), cfg.Analysis.GeminiAPIKey,
			gemini.WithModel(cfg.Analysis.Model),
			gemini.WithLogger(logger.Component("gemini")),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Portfolio analysis disabled")
		} else {
			generator = gc
		}
	}
	analysisCache := cache.NewLayered(cache.NewMemory(cfg.Analysis.GetCacheTTL()), cache.NewSQLite(db))
	analysisService := services.NewAnalysisService(generator, analysisCache, logger)

	registry := dashboard.NewRegistry(syncService, hosted,
		dashboard.WithInstitutionRecorder(institutionRepo),
		dashboard.WithHoldingsReader(holdingRepo),
		dashboard.WithDiagnosticSink(diagnosticRepo),
		dashboard.WithRegistryLogger(logger),
	)

	deps := handlers.NewDependencies(registry).
		WithConsent(hosted).
		WithLogger(logger).
		WithSyncHistoryRepo(syncHistoryRepo).
		WithLinkedInstitutionRepo(institutionRepo).
		WithAnalysis(analysisService)

	// Pending connects outlive their request; cancelling baseCtx on shutdown
	// abandons them.
	baseCtx, cancelConnects := context.WithCancel(context.Background())
	defer cancelConnects()

	router := handlers.NewRouter(baseCtx, deps, authMiddleware)
	if demoBackend != nil {
		router.Mount("/functions", demoBackend.Routes())
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", cfg.Address()).Str("env", cfg.Environment).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down server...")

	cancelConnects()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server stopped")
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
