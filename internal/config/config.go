// Package config defines the provisioning configuration and its
// validation rules. Defaults come from PVEFORGE_* environment
// variables; the CLI layers flag values on top.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/ntq-ops/pveforge/internal/naming"
)

// Defaults are host-level defaults sourced from the environment.
// They cover the values an operator sets once per PVE node rather
// than per VM.
type Defaults struct {
	Storage         string   `envconfig:"STORAGE" default:"local-lvm"`
	SnippetsStorage string   `envconfig:"SNIPPETS_STORAGE" default:"local"`
	Bridge          string   `envconfig:"BRIDGE" default:"vmbr0"`
	ImageCacheDir   string   `envconfig:"IMAGE_CACHE_DIR" default:"/var/lib/vz/template/cache/pveforge"`
	CIUser          string   `envconfig:"CI_USER" default:"admin"`
	DNS             []string `envconfig:"DNS"`
	SearchDomain    string   `envconfig:"SEARCH_DOMAIN"`
	Prefix          string   `envconfig:"PREFIX"`
}

// LoadDefaults reads defaults from PVEFORGE_* environment variables.
func LoadDefaults() (Defaults, error) {
	var d Defaults
	if err := envconfig.Process("PVEFORGE", &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to load environment defaults: %w", err)
	}
	return d, nil
}

// ProvisionConfig is the complete configuration for one VM.
type ProvisionConfig struct {
	// Name identifies the VM within the naming convention.
	Name naming.Spec

	// Proxmox placement and storage.
	Storage         string // storage for the VM boot disk
	SnippetsStorage string // storage holding the cloud-init snippet

	// Network.
	Bridge       string
	VLAN         int // 0 means untagged
	DHCP         bool
	IP           string // CIDR, e.g. "192.0.2.10/24"
	Gateway      string
	DNS          []string
	SearchDomain string

	// Sizing.
	Cores    int
	MemoryMB int
	DiskGB   int

	// Guest configuration.
	CIUser           string
	SSHKeySource     string // URL or local file path with authorized keys
	ExtraPackages    []string
	TailscaleAuthKey string

	// Image.
	ImageURL      string
	ImageChecksum string // optional "sha256:<hex>" of the downloaded image

	// Behavior.
	NoStart bool
}

// Normalize sanitizes user input and fills unset fields from defaults.
// Called before Validate.
func (c *ProvisionConfig) Normalize(d Defaults) {
	c.Name.Prefix = strings.ToLower(strings.TrimSpace(c.Name.Prefix))
	c.Name.Customer = strings.ToLower(strings.TrimSpace(c.Name.Customer))
	c.Name.Role = strings.ToLower(strings.TrimSpace(c.Name.Role))
	c.Name.Site = strings.ToLower(strings.TrimSpace(c.Name.Site))
	c.SearchDomain = strings.ToLower(strings.TrimSpace(c.SearchDomain))

	if c.Name.Prefix == "" {
		c.Name.Prefix = d.Prefix
	}
	if c.Storage == "" {
		c.Storage = d.Storage
	}
	if c.SnippetsStorage == "" {
		c.SnippetsStorage = d.SnippetsStorage
	}
	if c.Bridge == "" {
		c.Bridge = d.Bridge
	}
	if c.CIUser == "" {
		c.CIUser = d.CIUser
	}
	if len(c.DNS) == 0 {
		c.DNS = d.DNS
	}
	if c.SearchDomain == "" {
		c.SearchDomain = d.SearchDomain
	}

	if c.Cores == 0 {
		c.Cores = 2
	}
	if c.MemoryMB == 0 {
		c.MemoryMB = 2048
	}
	if c.DiskGB == 0 {
		c.DiskGB = 20
	}
}

// Validate checks the configuration for errors. It does not validate
// host resources (storages, bridges) - the Proxmox tools report those.
func (c *ProvisionConfig) Validate() error {
	if err := c.Name.Validate(); err != nil {
		return fmt.Errorf("name: %w", err)
	}

	if c.Storage == "" {
		return fmt.Errorf("storage is required")
	}
	if c.SnippetsStorage == "" {
		return fmt.Errorf("snippets storage is required")
	}
	if c.Bridge == "" {
		return fmt.Errorf("bridge is required")
	}
	if c.VLAN < 0 || c.VLAN > 4094 {
		return fmt.Errorf("vlan must be between 0 and 4094, got %d", c.VLAN)
	}

	if c.Cores < 1 {
		return fmt.Errorf("cpu cores must be >= 1, got %d", c.Cores)
	}
	if c.MemoryMB < 256 {
		return fmt.Errorf("memory must be >= 256 MB, got %d", c.MemoryMB)
	}
	if c.DiskGB < 1 {
		return fmt.Errorf("disk must be >= 1 GB, got %d", c.DiskGB)
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if c.CIUser == "" {
		return fmt.Errorf("cloud-init user is required")
	}
	if c.SSHKeySource == "" {
		return fmt.Errorf("ssh key source (URL or file) is required")
	}

	if c.ImageURL == "" {
		return fmt.Errorf("image URL is required")
	}
	u, err := url.Parse(c.ImageURL)
	if err != nil {
		return fmt.Errorf("invalid image URL %q: %w", c.ImageURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("image URL must be http or https, got %q", c.ImageURL)
	}
	if c.ImageChecksum != "" && !strings.HasPrefix(c.ImageChecksum, "sha256:") {
		return fmt.Errorf("image checksum must be of the form sha256:<hex>, got %q", c.ImageChecksum)
	}

	return nil
}

func (c *ProvisionConfig) validateNetwork() error {
	if c.DHCP {
		if c.IP != "" || c.Gateway != "" {
			return fmt.Errorf("dhcp is mutually exclusive with ip/gateway")
		}
	} else {
		if c.IP == "" || c.Gateway == "" {
			return fmt.Errorf("static addressing requires both ip (CIDR) and gateway, or use dhcp")
		}
		ip, _, err := net.ParseCIDR(c.IP)
		if err != nil {
			return fmt.Errorf("invalid ip/cidr format %q: %w", c.IP, err)
		}
		if ip.To4() == nil {
			return fmt.Errorf("only IPv4 addresses are supported, got %q", c.IP)
		}
		if net.ParseIP(c.Gateway) == nil {
			return fmt.Errorf("invalid gateway IP address %q", c.Gateway)
		}
	}

	for i, dns := range c.DNS {
		if net.ParseIP(dns) == nil {
			return fmt.Errorf("dns[%d] is not a valid IP address: %q", i, dns)
		}
	}
	return nil
}

// VMName returns the VM name derived from the naming spec.
func (c *ProvisionConfig) VMName() string {
	return c.Name.Hostname()
}

// IPConfig returns the value for Proxmox's ipconfig0 option.
func (c *ProvisionConfig) IPConfig() string {
	if c.DHCP {
		return "ip=dhcp"
	}
	return fmt.Sprintf("ip=%s,gw=%s", c.IP, c.Gateway)
}
