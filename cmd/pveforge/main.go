package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version = "dev"
	commit  = "unknown"
)

var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pveforge",
	Short: "pveforge - Proxmox VE VM provisioning tool",
	Long: `pveforge provisions cloud-image VMs on a Proxmox VE node.

It downloads a cloud image (cached locally), allocates a name and VMID,
creates the VM, imports and resizes the boot disk, renders a cloud-init
snippet, and boots the machine - replacing the per-customer shell
scripts this grew out of.

pveforge must run on the PVE node itself: all VM lifecycle work is
delegated to the node tools (qm, pvesh, pvesm).`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(nextIDCmd)
	rootCmd.AddCommand(renderCmd)
}

// newLogger builds the process logger. Console output, debug level
// behind --verbose.
func newLogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}
