// Command server runs the song marketplace API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/songforge/marketplace/internal/app"
	"github.com/songforge/marketplace/internal/app/httpapi"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/internal/app/storage/postgres"
	"github.com/songforge/marketplace/internal/config"
	"github.com/songforge/marketplace/internal/middleware"
	"github.com/songforge/marketplace/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/marketplace.yaml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	if v := os.Getenv("MARKET_CONFIG"); v != "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	store, db, err := buildStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("configure store")
	}

	application, err := app.New(app.Options{
		Store:         store,
		Owner:         cfg.Platform.Owner,
		PlatformFee:   cfg.Platform.PlatformFee,
		StatsInterval: time.Duration(cfg.Platform.StatsIntervalSeconds) * time.Second,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	handler := buildHandler(application, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("marketplace API listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("close database")
		}
	}
}

func buildStore(cfg *config.Config, log *logger.Logger) (storage.Store, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; using in-memory store")
		return nil, nil, nil
	}

	driver := cfg.Database.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := postgres.New(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func buildHandler(application *app.Application, cfg *config.Config, log *logger.Logger) http.Handler {
	router := httpapi.NewHandler(application, log)

	var handler http.Handler = router
	handler = middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst, log).Handler(handler)
	if cfg.Server.AuthSecret != "" {
		auth := middleware.NewAuthMiddleware([]byte(cfg.Server.AuthSecret), log, []string{"/healthz", "/metrics"})
		handler = auth.Handler(handler)
	} else {
		log.Warn("no auth secret configured; mutating endpoints will reject all callers")
	}
	handler = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(handler)
	return handler
}
