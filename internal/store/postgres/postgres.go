package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"stockpos/internal/store/migrations"
	"stockpos/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

type Options struct {
	// AutoMigrate applies pending migrations before the store is returned.
	AutoMigrate bool
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.AutoMigrate {
		if err := migrations.Up(db.DB, migrations.Postgres); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{Store: sqlstore.New(db, sqlstore.Dialect{
		LockClause:        " FOR UPDATE",
		IsUniqueViolation: isUniqueViolation,
	})}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
