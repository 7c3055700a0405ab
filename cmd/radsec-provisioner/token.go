package main

import (
	"errors"
	"fmt"

	"github.com/EternisAI/radsec-provisioner/internal/auth"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		hours   int
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			if !auth.ValidRole(role) {
				return fmt.Errorf("%w: %q", auth.ErrInvalidRole, role)
			}

			jwtConfig := config.JWT
			if hours > 0 {
				jwtConfig.ExpiryHours = hours
			}

			token, err := auth.GenerateToken(jwtConfig, uuid.NewString(), subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Username the token is issued to")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "Role: admin, operator or viewer")
	cmd.Flags().IntVar(&hours, "ttl", 0, "Token lifetime in hours (default jwt.expiry_hours)")
	return cmd
}
