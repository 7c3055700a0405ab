package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations applies pending ledger migrations inside cfg.Schema, creating
// the schema when needed.
func RunMigrations(ctx context.Context, cfg Config) error {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	connConfig, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("unable to parse database config: %w", err)
	}

	admin, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	_, err = admin.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
	admin.Close(ctx)
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}

	// Every pooled connection, not just the first, must see the schema.
	connConfig.RuntimeParams["search_path"] = schema
	sqlDB := stdlib.OpenDB(*connConfig)
	defer sqlDB.Close()

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}

	slog.Info("Database migrations completed", "schema", schema, "applied", len(results))
	return nil
}
