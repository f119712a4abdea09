package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ntq-ops/pveforge/internal/config"
	"github.com/ntq-ops/pveforge/internal/naming"
	"github.com/ntq-ops/pveforge/internal/output"
	"github.com/ntq-ops/pveforge/internal/pve"
)

var (
	listOutputFormat string
	listNoHeaders    bool
	listCustomer     string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cluster VMs",
	Long: `List all QEMU VMs known to the cluster.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML list
  -o json   JSON array

With --customer, only VMs whose name parses under the naming
convention and belongs to that customer are shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(listOutputFormat); err != nil {
			return err
		}
		if err := pve.Preflight(); err != nil {
			return err
		}

		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		client := pve.NewClient(pve.NewExecRunner(logger), logger)

		vms, err := client.ListVMs(context.Background())
		if err != nil {
			return err
		}

		if listCustomer != "" {
			defaults, err := config.LoadDefaults()
			if err != nil {
				return err
			}
			vms = filterByCustomer(vms, listCustomer, defaults.Prefix)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(listOutputFormat),
			NoHeaders: listNoHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatVMs(vms)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

// filterByCustomer keeps the VMs whose name parses under the naming
// convention and belongs to customer. The flag value is normalized the
// same way provisioning normalizes names, so "Acme" matches "acme".
func filterByCustomer(vms []pve.VMSummary, customer, prefix string) []pve.VMSummary {
	customer = strings.ToLower(strings.TrimSpace(customer))
	filtered := vms[:0]
	for _, vm := range vms {
		spec, err := naming.Parse(vm.Name, prefix)
		if err == nil && spec.Customer == customer {
			filtered = append(filtered, vm)
		}
	}
	return filtered
}

func init() {
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "table", "output format (table, yaml, json)")
	listCmd.Flags().BoolVar(&listNoHeaders, "no-headers", false, "omit table headers")
	listCmd.Flags().StringVar(&listCustomer, "customer", "", "only show VMs for this customer")
}
