package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockpos/internal/config"
	"stockpos/internal/store/memory"
	"stockpos/internal/store/migrations"
	"stockpos/internal/store/sqlite"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":     {AuthSecret: "short", AdminPassword: "admin-password"},
		"missing admin":    {AuthSecret: "0123456789abcdef0123456789abcdef"},
		"short admin":      {AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "abc"},
		"short cashier pw": {AuthSecret: "0123456789abcdef0123456789abcdef", AdminPassword: "admin-password", CashierPassword: "x"},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected weak security config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:      "0123456789abcdef0123456789abcdef",
		AdminPassword:   "correct-horse",
		CashierPassword: "kasir123",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if closeFn != nil {
		t.Fatalf("expected no closer for the memory store")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
	products, err := repo.ListProducts(context.Background())
	if err != nil || len(products) == 0 {
		t.Fatalf("expected seeded products, got %d (%v)", len(products), err)
	}
}

func TestOpenRepositoryRejectsUnknownScheme(t *testing.T) {
	if _, _, err := openRepository(context.Background(), config.Config{DatabaseURL: "mysql://db/stock"}); err == nil {
		t.Fatalf("expected unsupported scheme to fail")
	}
}

func TestMigrateDownAndUpOnSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stock.db")
	cfg := config.Config{DatabaseURL: "sqlite://" + path}

	if err := runMigration(context.Background(), cfg, migrations.Down); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if err := runMigration(context.Background(), cfg, migrations.Up); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	db, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	version, dirty, ok, err := migrations.Version(db.DB().DB, migrations.SQLite)
	if err != nil || !ok || dirty || version != 1 {
		t.Fatalf("unexpected schema version %d dirty=%v ok=%v err=%v", version, dirty, ok, err)
	}
}

func TestMigrateRequiresDatabase(t *testing.T) {
	if err := runMigration(context.Background(), config.Config{}, migrations.Up); err == nil {
		t.Fatalf("expected migrate without DATABASE_URL to fail")
	}
}

func TestRootCommandLogLevelFollowsEnvironment(t *testing.T) {
	prevLevel, prevLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prevLevel)
		log.Logger = prevLogger
	})

	cases := map[string]zerolog.Level{
		"Production":  zerolog.InfoLevel,
		"PRODUCTION":  zerolog.InfoLevel,
		"production":  zerolog.InfoLevel,
		"development": zerolog.DebugLevel,
	}
	for env, want := range cases {
		t.Setenv("APP_ENV", env)
		cmd := newRootCommand()
		cmd.PersistentPreRun(cmd, nil)
		if got := zerolog.GlobalLevel(); got != want {
			t.Fatalf("APP_ENV=%s: expected level %s, got %s", env, want, got)
		}
	}
}
