package main

import (
	"errors"

	"github.com/EternisAI/radsec-provisioner/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.DB.Enabled() {
				return errors.New("db.url is not set")
			}
			return db.RunMigrations(cmd.Context(), config.DB)
		},
	}
}
