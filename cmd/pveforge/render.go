package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ntq-ops/pveforge/internal/cloudinit"
	"github.com/ntq-ops/pveforge/internal/naming"
	"github.com/ntq-ops/pveforge/internal/sshkey"
)

var (
	renderFlags  provisionFlags
	renderFormat string
	renderOut    string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render cloud-init configuration without provisioning",
	Long: `Render the cloud-init configuration a create run would produce,
without touching the Proxmox host.

Formats:
  --format yaml  user-data snippet to stdout (default)
  --format iso   NoCloud seed image, written to --out

The iso format is the fallback for hosts whose storage does not carry
the snippets content type; attach the resulting image as a CD-ROM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := renderFlags.toConfig()
		if err != nil {
			return err
		}

		keys, err := sshkey.Fetch(context.Background(), cfg.SSHKeySource)
		if err != nil {
			return err
		}

		switch renderFormat {
		case "yaml":
			userData, err := cloudinit.GenerateUserData(cfg, keys)
			if err != nil {
				return err
			}
			fmt.Print(userData)
			return nil

		case "iso":
			data, err := cloudinit.GenerateSeedISO(cfg, keys)
			if err != nil {
				return err
			}
			out := renderOut
			if out == "" {
				out = naming.SeedISOName(cfg.VMName())
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write seed image: %w", err)
			}
			fmt.Printf("✓ Seed image written to %s\n", out)
			return nil

		default:
			return fmt.Errorf("invalid format: %s (valid formats: yaml, iso)", renderFormat)
		}
	},
}

func init() {
	renderFlags.register(renderCmd)
	renderCmd.Flags().StringVar(&renderFormat, "format", "yaml", "render format (yaml, iso)")
	renderCmd.Flags().StringVar(&renderOut, "out", "", "output file for --format iso (default <vm-name>-seed.iso)")
}
