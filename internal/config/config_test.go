package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpos/internal/domain"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("CASHIER_PASSWORD", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.AdminPassword)
	assert.Empty(t, cfg.Accounts())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LISTING_CACHE_TTL_SECONDS", "0")
	t.Setenv("LOW_STOCK_THRESHOLD", "nope")
	t.Setenv("AUTO_MIGRATE", "")
	t.Setenv("UPLOAD_DIR", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 30*time.Second, cfg.ListingCacheTTL())
	assert.Equal(t, domain.LowStockThreshold, cfg.LowStockThreshold)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "static/uploads", cfg.UploadDir)
}

func TestBackend(t *testing.T) {
	cases := []struct {
		url     string
		kind    string
		dsn     string
		wantErr bool
	}{
		{"", BackendMemory, "", false},
		{"postgres://u:p@db/stock", BackendPostgres, "postgres://u:p@db/stock", false},
		{"postgresql://db/stock", BackendPostgres, "postgresql://db/stock", false},
		{"sqlite://data/stock.db", BackendSQLite, "data/stock.db", false},
		{"sqlite://", "", "", true},
		{"mysql://u:secret@db/stock", "", "", true},
	}
	for _, tc := range cases {
		kind, dsn, err := Config{DatabaseURL: tc.url}.Backend()
		if tc.wantErr {
			require.Error(t, err, tc.url)
			assert.NotContains(t, err.Error(), "secret")
			continue
		}
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.kind, kind)
		assert.Equal(t, tc.dsn, dsn)
	}
}

func TestAccounts(t *testing.T) {
	cfg := Config{AdminUsername: "boss", AdminPassword: "pw-admin", CashierUsername: "till", CashierPassword: "pw-till"}

	accounts := cfg.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, domain.UserAccount{Username: "boss", Password: "pw-admin", Role: domain.RoleAdmin, Active: true}, accounts[0])
	assert.Equal(t, domain.RoleCashier, accounts[1].Role)
}
