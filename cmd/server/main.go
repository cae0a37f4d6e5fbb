package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stockpos/internal/cache"
	"stockpos/internal/config"
	"stockpos/internal/httpapi"
	"stockpos/internal/imagestore"
	"stockpos/internal/invoice"
	"stockpos/internal/service"
	"stockpos/internal/store"
	"stockpos/internal/store/memory"
	"stockpos/internal/store/migrations"
	pgstore "stockpos/internal/store/postgres"
	"stockpos/internal/store/sqlite"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stockpos",
		Short:         "Inventory and point-of-sale backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(config.Load().IsProduction())
		},
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := serve(config.Load())
			if err != nil {
				log.Error().Err(err).Msg("server failed")
			}
			return err
		},
	}
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), config.Load(), migrations.Up)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), config.Load(), migrations.Down)
		},
	})
	return cmd
}

func setupLogger(production bool) {
	if production {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serve(cfg config.Config) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	loc, err := invoice.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn().Err(err).Msg("close error")
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	listingCache := cache.ListingCache(cache.NoopListingCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisListingCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			listingCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	images, err := imagestore.NewDisk(cfg.UploadDir, imagestore.DefaultMaxBytes)
	if err != nil {
		return err
	}

	svc := service.New(repo, service.Options{
		Cache:             listingCache,
		Images:            images,
		ListingTTL:        cfg.ListingCacheTTL(),
		LowStockThreshold: cfg.LowStockThreshold,
	})
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.Accounts())
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Images:         images,
		Location:       loc,
		MaxUploadBytes: images.MaxBytes(),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Address()).Str("zone", loc.String()).Msg("stockpos listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-sig:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}

// openRepository selects the store from DATABASE_URL. A configured database
// that cannot be reached is fatal; only an empty URL yields the seeded
// in-memory store.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	kind, dsn, err := cfg.Backend()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, dsn, pgstore.Options{AutoMigrate: cfg.AutoMigrate})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		log.Info().Msg("repository: postgres")
		return pg, pg.Close, nil
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite unavailable: %w", err)
		}
		log.Info().Str("path", dsn).Msg("repository: sqlite")
		return db, db.Close, nil
	default:
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

type migrationFunc func(db *sql.DB, dialect string) error

func runMigration(ctx context.Context, cfg config.Config, run migrationFunc) error {
	kind, dsn, err := cfg.Backend()
	if err != nil {
		return err
	}

	switch kind {
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, dsn, pgstore.Options{})
		if err != nil {
			return err
		}
		defer pg.Close()
		err = run(pg.DB().DB, migrations.Postgres)
		logMigration(err, kind)
		return err
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		err = run(db.DB().DB, migrations.SQLite)
		logMigration(err, kind)
		return err
	default:
		return errors.New("migrate needs DATABASE_URL pointing at postgres:// or sqlite://")
	}
}

func logMigration(err error, backend string) {
	if err != nil {
		log.Error().Err(err).Str("backend", backend).Msg("migration failed")
		return
	}
	log.Info().Str("backend", backend).Msg("migration complete")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD must be set")
	}
	if len(cfg.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters or a bcrypt hash")
	}
	if cfg.CashierPassword != "" && len(cfg.CashierPassword) < 6 {
		return fmt.Errorf("CASHIER_PASSWORD must be at least 6 characters")
	}
	return nil
}
