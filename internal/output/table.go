package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ntq-ops/pveforge/internal/pve"
)

// TableFormatter formats VM summaries as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatVMs formats a list of VM summaries as a table.
func (f *TableFormatter) FormatVMs(vms []pve.VMSummary) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "VMID\tNAME\tNODE\tSTATUS\tCPUS\tMEMORY\tDISK\tUPTIME")
	}

	for _, vm := range vms {
		name := vm.Name
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.0f\t%dM\t%.0fG\t%s\n",
			vm.VMID,
			name,
			vm.Node,
			vm.Status,
			vm.MaxCPU,
			vm.MaxMemMB(),
			vm.MaxDiskGB(),
			formatUptime(vm.UptimeSec),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to format table: %w", err)
	}
	return buf.String(), nil
}

// formatUptime renders seconds as a compact duration, "-" when stopped.
func formatUptime(sec int64) string {
	if sec <= 0 {
		return "-"
	}
	d := time.Duration(sec) * time.Second
	if d >= 24*time.Hour {
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}
