package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ntq-ops/pveforge/internal/image"
	"github.com/ntq-ops/pveforge/internal/provision"
	"github.com/ntq-ops/pveforge/internal/pve"
	"github.com/ntq-ops/pveforge/internal/sshkey"
)

var createFlags provisionFlags

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a new VM",
	Long: `Provision a new cloud-image VM on this Proxmox VE node.

The VM name is derived from --customer, --role, --index and optional
--site/--prefix, e.g. "acme-web1" or "ntq-acme-db2-fra". The cloud
image is downloaded once and cached; the cloud-init user-data snippet
is written to the snippets storage and referenced via --cicustom.

Example:
  pveforge create --customer acme --role web --index 1 \
    --image-url https://cloud-images.ubuntu.com/noble/current/noble-server-cloudimg-amd64.img \
    --ssh-key-url https://keys.example.net/ops.pub --dhcp`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := createFlags.toConfig()
		if err != nil {
			return err
		}

		if err := pve.Preflight(); err != nil {
			return err
		}

		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		client := pve.NewClient(pve.NewExecRunner(logger), logger)
		cache := image.NewCache(imageCacheDir(), logger)
		engine := provision.New(client, cache, sshkey.Fetch, logger)

		fmt.Printf("Provisioning VM %s...\n", cfg.VMName())

		res, err := engine.Provision(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("provisioning failed: %w", err)
		}

		fmt.Printf("✓ VM %s (vmid %d) provisioned\n", res.Name, res.VMID)
		fmt.Printf("  snippet: %s\n", res.SnippetPath)
		fmt.Printf("  image:   %s\n", res.ImagePath)
		if res.Started {
			fmt.Println("  state:   started")
		} else {
			fmt.Println("  state:   created (not started)")
		}
		return nil
	},
}

func init() {
	createFlags.register(createCmd)
	createCmd.Flags().BoolVar(&createFlags.noStart, "no-start", false, "create the VM but do not start it")
}
