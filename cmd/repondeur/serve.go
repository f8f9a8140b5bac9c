package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repondeur/api/internal/app"
	"repondeur/api/internal/changeclock"
	"repondeur/api/internal/config"
	"repondeur/api/internal/editlock"
	"repondeur/api/internal/location"
	"repondeur/api/internal/refresh"
	"repondeur/api/internal/store"
	"repondeur/api/internal/store/memstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), loadConfig())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().String("redis-url", "", "Redis URL for edit locks")
	_ = viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("redis_url", serveCmd.Flags().Lookup("redis-url"))
}

// openStore returns the configured data store and a function closing it.
// Postgres is migrated before use.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Printf("Using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	case config.StorePostgres, "":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newRunner(cfg config.Config, dataStore store.Store, clock *changeclock.Clock, locker refresh.Locker) *refresh.Runner {
	if strings.TrimSpace(cfg.ProviderURL) == "" {
		return nil
	}
	ingester := refresh.NewIngester(clock, location.NewRegistry(clock))
	provider := refresh.NewHTTPProvider(cfg.ProviderURL, cfg.ProviderTimeout)
	return refresh.NewRunner(dataStore, provider, ingester, locker, refresh.Options{
		Workers:       cfg.RefreshWorkers,
		MaxAttempts:   cfg.RefreshMaxAttempts,
		BaseDelay:     cfg.RefreshBaseDelay,
		LockTTL:       cfg.RefreshLockTTL,
		RatePerSecond: cfg.RefreshRate,
	})
}

func serve(ctx context.Context, cfg config.Config) error {
	dataStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	locks, err := editlock.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer locks.Close()

	clock := changeclock.New(cfg.CheckCacheTTL)
	runner := newRunner(cfg, dataStore, clock, refresh.NewRedisLocker(locks.Client()))
	if runner != nil {
		defer runner.Close()
	} else {
		log.Printf("No amendement provider configured, refresh is disabled")
	}

	service := app.New(cfg, dataStore, locks, clock, runner)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Répondeur API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}
