package output

import (
	"encoding/json"
	"fmt"

	"github.com/ntq-ops/pveforge/internal/pve"
)

// JSONFormatter formats VM summaries as JSON.
type JSONFormatter struct{}

// FormatVMs formats a list of VM summaries as a JSON array.
func (f *JSONFormatter) FormatVMs(vms []pve.VMSummary) (string, error) {
	if len(vms) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(vms, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal VMs to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
