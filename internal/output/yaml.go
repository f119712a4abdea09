package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ntq-ops/pveforge/internal/pve"
)

// YAMLFormatter formats VM summaries as YAML.
type YAMLFormatter struct{}

// FormatVMs formats a list of VM summaries as a YAML sequence.
func (f *YAMLFormatter) FormatVMs(vms []pve.VMSummary) (string, error) {
	if len(vms) == 0 {
		return "[]\n", nil
	}

	data, err := yaml.Marshal(vms)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VMs to YAML: %w", err)
	}
	return string(data), nil
}
