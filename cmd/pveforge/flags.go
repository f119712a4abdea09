package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ntq-ops/pveforge/internal/config"
)

// provisionFlags holds the raw flag values shared by the create and
// render commands.
type provisionFlags struct {
	customer string
	role     string
	index    int
	site     string
	prefix   string

	storage         string
	snippetsStorage string

	bridge string
	vlan   int
	dhcp   bool
	ip     string
	gw     string
	dns    []string
	search string

	cpu  int
	ram  int
	disk int

	ciUser        string
	sshKeyURL     string
	extraPackages []string
	tailscaleKey  string

	imageURL      string
	imageChecksum string

	noStart bool
}

// imageCacheDir returns the configured image cache directory, falling
// back to the built-in default if the environment cannot be read.
func imageCacheDir() string {
	defaults, err := config.LoadDefaults()
	if err != nil {
		return ""
	}
	return defaults.ImageCacheDir
}

// register adds the provisioning flag set to a command.
func (f *provisionFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()

	fs.StringVar(&f.customer, "customer", "", "customer label (required)")
	fs.StringVar(&f.role, "role", "", "role label, e.g. web or db (required)")
	fs.IntVar(&f.index, "index", 1, "instance index within the role")
	fs.StringVar(&f.site, "site", "", "optional site label appended to the name")
	fs.StringVar(&f.prefix, "prefix", "", "optional organization prefix (default from PVEFORGE_PREFIX)")

	fs.StringVar(&f.storage, "storage", "", "storage for the boot disk (default from PVEFORGE_STORAGE)")
	fs.StringVar(&f.snippetsStorage, "snippets-storage", "", "storage holding cloud-init snippets (default from PVEFORGE_SNIPPETS_STORAGE)")

	fs.StringVar(&f.bridge, "bridge", "", "network bridge (default from PVEFORGE_BRIDGE)")
	fs.IntVar(&f.vlan, "vlan", 0, "VLAN tag, 0 for untagged")
	fs.BoolVar(&f.dhcp, "dhcp", false, "use DHCP addressing")
	fs.StringVar(&f.ip, "ip", "", "static IP in CIDR form, e.g. 192.0.2.10/24")
	fs.StringVar(&f.gw, "gw", "", "default gateway for static addressing")
	fs.StringSliceVar(&f.dns, "dns", nil, "DNS servers for the guest")
	fs.StringVar(&f.search, "search-domain", "", "DNS search domain")

	fs.IntVar(&f.cpu, "cpu", 0, "CPU cores (default 2)")
	fs.IntVar(&f.ram, "ram", 0, "memory in MB (default 2048)")
	fs.IntVar(&f.disk, "disk", 0, "boot disk size in GB (default 20)")

	fs.StringVar(&f.ciUser, "ci-user", "", "cloud-init user name (default from PVEFORGE_CI_USER)")
	fs.StringVar(&f.sshKeyURL, "ssh-key-url", "", "URL or local file with SSH authorized keys (required)")
	fs.StringSliceVar(&f.extraPackages, "extra-packages", nil, "additional packages to install on first boot")
	fs.StringVar(&f.tailscaleKey, "tailscale-authkey", "", "tailscale auth key to join the VM to a tailnet")

	fs.StringVar(&f.imageURL, "image-url", "", "cloud image URL (required)")
	fs.StringVar(&f.imageChecksum, "image-checksum", "", "expected image checksum as sha256:<hex>")

	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("image-url")
}

// toConfig builds a normalized, validated ProvisionConfig.
func (f *provisionFlags) toConfig() (*config.ProvisionConfig, error) {
	defaults, err := config.LoadDefaults()
	if err != nil {
		return nil, err
	}

	cfg := &config.ProvisionConfig{
		Storage:          f.storage,
		SnippetsStorage:  f.snippetsStorage,
		Bridge:           f.bridge,
		VLAN:             f.vlan,
		DHCP:             f.dhcp,
		IP:               f.ip,
		Gateway:          f.gw,
		DNS:              f.dns,
		SearchDomain:     f.search,
		Cores:            f.cpu,
		MemoryMB:         f.ram,
		DiskGB:           f.disk,
		CIUser:           f.ciUser,
		SSHKeySource:     f.sshKeyURL,
		ExtraPackages:    f.extraPackages,
		TailscaleAuthKey: f.tailscaleKey,
		ImageURL:         f.imageURL,
		ImageChecksum:    f.imageChecksum,
		NoStart:          f.noStart,
	}
	cfg.Name.Customer = f.customer
	cfg.Name.Role = f.role
	cfg.Name.Index = f.index
	cfg.Name.Site = f.site
	cfg.Name.Prefix = f.prefix

	cfg.Normalize(defaults)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
