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
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/sponsoredissues/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/sponsoredissues/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/sponsoredissues/internal/adapter/driving/web"
	"github.com/ericfisherdev/sponsoredissues/internal/application"
	"github.com/ericfisherdev/sponsoredissues/internal/config"
	"github.com/ericfisherdev/sponsoredissues/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid values).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sponsor_label", cfg.SponsorLabel,
		"payment_mode", cfg.PaymentMode,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	// 5. Wire adapters.
	issueStore := sqliteadapter.NewIssueRepo(db)
	allocationStore := sqliteadapter.NewAllocationRepo(db)

	gateway, err := githubadapter.NewClient(githubadapter.Options{
		AppID:         cfg.GitHubAppID,
		PrivateKeyPEM: cfg.GitHubPrivateKey,
		Token:         cfg.GitHubToken,
		Timeout:       cfg.HTTPTimeout,
	})
	if err != nil {
		return err
	}
	if !gateway.AppConfigured() {
		slog.Warn("github app credentials not configured, app-scoped calls disabled")
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("webhook secret not configured, deliveries are accepted unsigned")
	}

	// 6. Create application services.
	catalogSvc := application.NewCatalogService(issueStore, gateway, cfg.SponsorLabel)
	ledgerSvc := application.NewLedgerService(allocationStore, gateway)
	statsSvc := application.NewStatsService(issueStore, ledgerSvc)
	validationSvc := application.NewValidationService(gateway, cfg.ValidationCacheSize, cfg.ValidationCacheTTL)
	healthSvc := application.NewHealthService(db, gateway.AppConfigured(), cfg.PaymentMode)

	// 7. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(catalogSvc, statsSvc, validationSvc, healthSvc, cfg.WebhookSecret, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, apiHandler, cfg.CORSOrigins)

	// 8. Create web handler and register page and form routes.
	auth := webhandler.NewAuthenticator(gateway, cfg.AllowedUsers)
	webHandler := webhandler.NewHandler(statsSvc, ledgerSvc, auth, cfg.PaymentMode, cfg.CookieSecure, slog.Default())
	webhandler.RegisterRoutes(mux, webHandler)

	// Apply middleware.
	handler := httphandler.ApplyMiddleware(mux, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("sponsoredissues started",
		"listen_addr", cfg.ListenAddr,
		"github_app", gateway.AppConfigured(),
		"allowlist", len(cfg.AllowedUsers),
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
