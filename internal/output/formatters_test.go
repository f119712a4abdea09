package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ntq-ops/pveforge/internal/pve"
)

func sampleVMs() []pve.VMSummary {
	return []pve.VMSummary{
		{
			VMID: 100, Name: "acme-web1", Node: "pve1", Status: "running",
			MaxMem: 2 * 1024 * 1024 * 1024, MaxDisk: 20 * 1024 * 1024 * 1024,
			MaxCPU: 2, UptimeSec: 90000,
		},
		{
			VMID: 105, Name: "globex-db1-fra", Node: "pve2", Status: "stopped",
			MaxMem: 4 * 1024 * 1024 * 1024, MaxDisk: 40 * 1024 * 1024 * 1024,
			MaxCPU: 4,
		},
	}
}

func TestNewFormatter(t *testing.T) {
	for _, format := range []Format{FormatTable, FormatYAML, FormatJSON} {
		f, err := NewFormatter(Options{Format: format})
		require.NoError(t, err, "format %s", format)
		require.NotNil(t, f)
	}

	_, err := NewFormatter(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("table"))
	assert.NoError(t, ValidateFormat("json"))
	assert.NoError(t, ValidateFormat("yaml"))
	assert.Error(t, ValidateFormat("csv"))
}

func TestTableFormatter(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatVMs(sampleVMs())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "VMID")
	assert.Contains(t, lines[0], "UPTIME")
	assert.Contains(t, lines[1], "acme-web1")
	assert.Contains(t, lines[1], "2048M")
	assert.Contains(t, lines[1], "1d1h")
	assert.Contains(t, lines[2], "stopped")
}

func TestTableFormatterNoHeaders(t *testing.T) {
	f := &TableFormatter{NoHeaders: true}
	out, err := f.FormatVMs(sampleVMs())
	require.NoError(t, err)
	assert.NotContains(t, out, "VMID\t")
	assert.Contains(t, out, "acme-web1")
}

func TestTableFormatterEmpty(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatVMs(nil)
	require.NoError(t, err)
	assert.Equal(t, "No VMs found\n", out)
}

func TestJSONFormatter(t *testing.T) {
	f := &JSONFormatter{}
	out, err := f.FormatVMs(sampleVMs())
	require.NoError(t, err)

	var parsed []pve.VMSummary
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed, 2)
	assert.Equal(t, "acme-web1", parsed[0].Name)

	empty, err := f.FormatVMs(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", empty)
}

func TestYAMLFormatter(t *testing.T) {
	f := &YAMLFormatter{}
	out, err := f.FormatVMs(sampleVMs())
	require.NoError(t, err)

	var parsed []pve.VMSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed, 2)
	assert.Equal(t, 105, parsed[1].VMID)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		sec  int64
		want string
	}{
		{0, "-"},
		{-5, "-"},
		{120, "2m"},
		{3660, "1h1m"},
		{90000, "1d1h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.sec))
	}
}
