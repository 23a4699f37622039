package rag

import (
	"context"
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/xr-voice-gateway/internal/logging"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrate applies pending schema migrations to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return errors.Wrap(err, "rag: migrations fs")
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return errors.Wrap(err, "rag: migration provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "rag: migrate up")
	}
	logging.Infow("rag: migrations applied", "count", len(results))
	return nil
}
