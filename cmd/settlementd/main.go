// Command settlementd runs the lottery settlement engine: ticket sales, the
// scheduled draw, prize allocation, and on-chain payouts.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/lampochka7181/Euromillions-back-end/internal/app"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/httpapi"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage/postgres"
	"github.com/lampochka7181/Euromillions-back-end/internal/chain"
	"github.com/lampochka7181/Euromillions-back-end/internal/config"
	"github.com/lampochka7181/Euromillions-back-end/internal/platform/migrations"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "settlementd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("service", "settlementd")

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return fmt.Errorf("configure stores: %w", err)
	}
	if db != nil {
		defer db.Close()
	}

	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required to fund payouts")
	}
	client, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.Chain.RPCURL,
		NetworkID: cfg.Chain.NetworkID,
		Timeout:   cfg.Chain.ChainTimeout(),
	})
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}

	application, err := app.New(cfg, stores, app.ChainSender{Client: client}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpapi.NewHandler(application, cfg.Server.AdminTokens),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		log.WithError(err).Error("HTTP server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop error")
	}
	return nil
}

// buildStores opens the configured database. With no database configured the
// engine falls back to the in-memory store, which only suits development.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; using in-memory store")
		return app.Stores{}, nil, nil
	}

	driver := cfg.Database.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, err
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Tickets:    store,
		Draws:      store,
		WinRecords: store,
		Pot:        store,
	}, db, nil
}
