package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockpos/internal/domain"
)

type Config struct {
	Env                    string
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	AutoMigrate            bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ListingCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	AdminUsername          string
	AdminPassword          string
	CashierUsername        string
	CashierPassword        string
	UploadDir              string
	DisplayTimezone        string
	LowStockThreshold      int
}

// Load reads the environment, after merging a .env file when present.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:                    getEnv("APP_ENV", "development"),
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate:            getBool("AUTO_MIGRATE", true),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0, 0),
		ListingCacheTTLSeconds: getInt("LISTING_CACHE_TTL_SECONDS", 30, 1),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          os.Getenv("ADMIN_PASSWORD"),
		CashierUsername:        getEnv("CASHIER_USERNAME", "kasir"),
		CashierPassword:        os.Getenv("CASHIER_PASSWORD"),
		UploadDir:              getEnv("UPLOAD_DIR", "static/uploads"),
		DisplayTimezone:        strings.TrimSpace(os.Getenv("DISPLAY_TIMEZONE")),
		LowStockThreshold:      getInt("LOW_STOCK_THRESHOLD", domain.LowStockThreshold, 1),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c Config) ListingCacheTTL() time.Duration {
	return time.Duration(c.ListingCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Backend picks the store from DATABASE_URL: postgres:// or postgresql://
// URLs go to Postgres, sqlite://path to a SQLite file, empty to the seeded
// in-memory store.
func (c Config) Backend() (kind string, dsn string, err error) {
	switch {
	case c.DatabaseURL == "":
		return BackendMemory, "", nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return BackendPostgres, c.DatabaseURL, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		path := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("DATABASE_URL %q has no sqlite file path", c.DatabaseURL)
		}
		return BackendSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme in %q", redactURL(c.DatabaseURL))
	}
}

// Accounts returns the configured logins. An account without a password is
// left out.
func (c Config) Accounts() []domain.UserAccount {
	accounts := make([]domain.UserAccount, 0, 2)
	if c.AdminPassword != "" {
		accounts = append(accounts, domain.UserAccount{Username: c.AdminUsername, Password: c.AdminPassword, Role: domain.RoleAdmin, Active: true})
	}
	if c.CashierPassword != "" {
		accounts = append(accounts, domain.UserAccount{Username: c.CashierUsername, Password: c.CashierPassword, Role: domain.RoleCashier, Active: true})
	}
	return accounts
}

func redactURL(raw string) string {
	if idx := strings.Index(raw, "@"); idx >= 0 {
		if scheme := strings.Index(raw, "://"); scheme >= 0 && scheme < idx {
			return raw[:scheme+3] + "***" + raw[idx:]
		}
	}
	return raw
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val < min {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}
