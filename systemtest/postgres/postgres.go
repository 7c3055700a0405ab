package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/db"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image    = "postgres:17-alpine"
	user     = "radsec"
	password = "radsec"
	database = "radsec"
)

// StartLedgerDB runs a disposable Postgres for the ledger and returns the
// db.Config pointing at it under schema. The container is terminated when
// the test ends; migrations are left to the caller.
func StartLedgerDB(ctx context.Context, t testing.TB, schema string) db.Config {
	t.Helper()

	container, err := start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Postgres container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get Postgres connection string")

	return db.Config{URL: url, Schema: schema}
}

func start(ctx context.Context) (*postgres.PostgresContainer, error) {
	container, err := postgres.Run(ctx,
		image,
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		postgres.WithDatabase(database),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start Postgres container: %w", err)
	}

	state, err := container.State(ctx)
	if err == nil && !state.Running {
		err = fmt.Errorf("container exited with status %d", state.ExitCode)
	}
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("postgres container is not usable: %w", err)
	}
	return container, nil
}
