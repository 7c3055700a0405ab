package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var AppVersion string

var configFile string

var rootCmd = &cobra.Command{
	Use:   "radsec-provisioner",
	Short: "Provision RadSec certificates onto Arista EOS switches",
	Long: `
Provision RadSec certificates onto Arista EOS switches.

Each device is registered with the identity service, generates its own key
and CSR, has the CSR signed, and gets the certificate and CA bound to its
TLS profile.

Options are read from application.yaml and may be overridden with
environment variables, e.g. IDENTITY_KEY_ID, DEVICE_PASSWORD, DB_URL.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return InitConfig(configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a configuration file")
	rootCmd.Version = AppVersion

	rootCmd.AddCommand(
		newProvisionCmd(),
		newServeCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
