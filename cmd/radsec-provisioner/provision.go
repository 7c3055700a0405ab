package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"github.com/spf13/cobra"
)

var errDevicesFailed = errors.New("one or more devices failed to provision")

func newProvisionCmd() *cobra.Command {
	var inventoryFile string

	cmd := &cobra.Command{
		Use:   "provision [host ...]",
		Short: "Provision RadSec certificates on a batch of devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := loadTargets(inventoryFile, args)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no devices given: pass hosts or --inventory")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openLedger(ctx, config)
			if err != nil {
				return err
			}
			defer closeStore()

			p, err := newProvisioner(config, store)
			if err != nil {
				return err
			}

			report, err := p.Run(ctx, targets)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if report.Failed() > 0 {
				return errDevicesFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inventoryFile, "inventory", "i", "", "YAML inventory file listing devices")
	return cmd
}

func printReport(out io.Writer, report *provisioning.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run %s\n", report.RunID)
	fmt.Fprintln(w, "HOST\tHOSTNAME\tSTATUS\tSTAGE\tCERTIFICATE\tERROR")
	for _, res := range report.Results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			res.Target.Host,
			dash(res.Hostname),
			res.Status,
			res.Stage,
			dash(res.CertFingerprint),
			dash(errText),
		)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "%d succeeded, %d failed\n", len(report.Results)-report.Failed(), report.Failed())
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
