package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ntq-ops/pveforge/internal/pve"
)

var nextIDCmd = &cobra.Command{
	Use:   "next-id",
	Short: "Print the next free VMID",
	Long: `Print the VMID the next provisioning run would allocate.

Uses pvesh's cluster-wide allocator; if that is unavailable, falls back
to scanning the cluster resource list for the highest allocated ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pve.Preflight(); err != nil {
			return err
		}

		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		client := pve.NewClient(pve.NewExecRunner(logger), logger)

		vmid, err := client.NextVMID(context.Background())
		if err != nil {
			return err
		}

		fmt.Println(vmid)
		return nil
	},
}
