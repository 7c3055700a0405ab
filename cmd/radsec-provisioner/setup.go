package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/radsec-provisioner/internal/db"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"github.com/EternisAI/radsec-provisioner/internal/staging"
	"github.com/spf13/afero"
)

// openLedger returns the Postgres ledger when db.url is set and the in-memory
// one otherwise. The returned func releases its resources.
func openLedger(ctx context.Context, cfg Config) (ledger.Store, func(), error) {
	if !cfg.DB.Enabled() {
		slog.Info("Using in-memory ledger")
		return ledger.NewMemoryStore(cfg.Ledger.Retention), func() {}, nil
	}

	if err := db.RunMigrations(ctx, cfg.DB); err != nil {
		return nil, nil, err
	}
	pool, err := db.InitDB(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Using Postgres ledger", "schema", cfg.DB.Schema)
	return ledger.NewPostgresStore(pool), pool.Close, nil
}

func newProvisioner(cfg Config, store ledger.Store) (*provisioning.Provisioner, error) {
	p := provisioning.New(
		identity.NewClient(cfg.Identity),
		provisioning.NewSSHDialer(cfg.Device),
		staging.New(afero.NewOsFs(), cfg.Staging.Dir),
		store,
		cfg.provisioningConfig(),
	)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("provisioning is not configured: %w", err)
	}
	return p, nil
}
