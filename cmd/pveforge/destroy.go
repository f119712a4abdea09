package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ntq-ops/pveforge/internal/config"
	"github.com/ntq-ops/pveforge/internal/naming"
	"github.com/ntq-ops/pveforge/internal/pve"
)

var (
	destroySnippetsStorage string
	destroyForce           bool
)

// shutdownTimeoutSec is how long qm shutdown waits for the guest
// before we fall back to a hard stop.
const shutdownTimeoutSec = 60

var destroyCmd = &cobra.Command{
	Use:   "destroy <name|vmid>",
	Short: "Destroy a VM",
	Long: `Destroy a virtual machine by name or VMID.

This will:
- Gracefully shut down the VM if running (hard stop after a timeout)
- Destroy the VM, purging it from job configurations and removing
  unreferenced disks
- Remove the VM's cloud-init snippet from the snippets storage`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pve.Preflight(); err != nil {
			return err
		}

		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		client := pve.NewClient(pve.NewExecRunner(logger), logger)
		ctx := context.Background()

		vmid, name, err := resolveVM(ctx, client, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Destroying VM %s (vmid %d)...\n", name, vmid)

		status, err := client.Status(ctx, vmid)
		if err != nil {
			return err
		}
		if status == "running" {
			if destroyForce {
				fmt.Println("Force stopping...")
				if err := client.Stop(ctx, vmid); err != nil {
					return err
				}
			} else {
				fmt.Printf("Shutting down (timeout %ds)...\n", shutdownTimeoutSec)
				if err := client.Shutdown(ctx, vmid, shutdownTimeoutSec); err != nil {
					logger.Warn("graceful shutdown failed, force stopping", zap.Error(err))
					if err := client.Stop(ctx, vmid); err != nil {
						return err
					}
				}
			}
		}

		if err := client.Destroy(ctx, vmid); err != nil {
			return err
		}

		removeSnippet(ctx, client, logger, name)

		fmt.Printf("✓ VM %s destroyed\n", name)
		return nil
	},
}

func init() {
	destroyCmd.Flags().StringVar(&destroySnippetsStorage, "snippets-storage", "", "storage holding cloud-init snippets (default from PVEFORGE_SNIPPETS_STORAGE)")
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "skip graceful shutdown")
}

// resolveVM accepts a VM name or a numeric VMID and returns both.
func resolveVM(ctx context.Context, client *pve.Client, arg string) (int, string, error) {
	if vmid, err := strconv.Atoi(arg); err == nil {
		vms, err := client.ListVMs(ctx)
		if err != nil {
			return 0, "", err
		}
		for _, vm := range vms {
			if vm.VMID == vmid {
				return vmid, vm.Name, nil
			}
		}
		return 0, "", fmt.Errorf("%w: vmid %d", pve.ErrNotFound, vmid)
	}

	vm, err := client.FindVMByName(ctx, arg)
	if err != nil {
		if errors.Is(err, pve.ErrNotFound) {
			return 0, "", fmt.Errorf("VM %q not found", arg)
		}
		return 0, "", err
	}
	return vm.VMID, vm.Name, nil
}

// removeSnippet deletes the VM's user-data snippet. Best effort: the VM
// is already gone, a stale snippet only wastes a few kilobytes.
func removeSnippet(ctx context.Context, client *pve.Client, logger *zap.Logger, name string) {
	storage := destroySnippetsStorage
	if storage == "" {
		defaults, err := config.LoadDefaults()
		if err != nil {
			logger.Warn("cannot resolve snippets storage, leaving snippet behind", zap.Error(err))
			return
		}
		storage = defaults.SnippetsStorage
	}

	dir, err := client.SnippetDir(ctx, storage)
	if err != nil {
		logger.Warn("cannot resolve snippet directory, leaving snippet behind", zap.Error(err))
		return
	}

	path := filepath.Join(dir, naming.SnippetName(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove snippet", zap.String("path", path), zap.Error(err))
	}
}
