// Package cloudinit renders cloud-init configuration for provisioned VMs.
//
// The user-data document is built from typed structs and marshaled with
// yaml.v3, so values containing YAML-significant characters are always
// quoted correctly regardless of what operators pass on the command line.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
package cloudinit

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ntq-ops/pveforge/internal/config"
	"github.com/ntq-ops/pveforge/internal/naming"
)

// basePackages are always installed; the guest agent is what lets
// Proxmox report the VM's IP address and shut it down cleanly.
var basePackages = []string{"qemu-guest-agent"}

// UserData is the cloud-config user-data structure.
type UserData struct {
	Hostname       string   `yaml:"hostname"`
	FQDN           string   `yaml:"fqdn"`
	ManageEtcHosts bool     `yaml:"manage_etc_hosts"`
	Users          []User   `yaml:"users"`
	PackageUpdate  bool     `yaml:"package_update"`
	Packages       []string `yaml:"packages,omitempty"`
	RunCmd         []string `yaml:"runcmd,omitempty"`
	FinalMessage   string   `yaml:"final_message,omitempty"`
}

// User is a cloud-config user entry.
type User struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Groups            string   `yaml:"groups,omitempty"`
	Shell             string   `yaml:"shell"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

// MetaData is the NoCloud meta-data structure, used only for seed ISO
// export; snippet-based provisioning relies on Proxmox's own cloud-init
// drive for instance metadata.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// GenerateUserData renders the user-data snippet for a VM.
//
// sshKeys holds the authorized key lines fetched from the configured
// key source. Returns the full file content including the
// "#cloud-config" header.
func GenerateUserData(cfg *config.ProvisionConfig, sshKeys []string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("provision configuration cannot be nil")
	}
	if len(sshKeys) == 0 {
		return "", fmt.Errorf("at least one SSH authorized key is required")
	}

	vmName := cfg.VMName()

	userData := UserData{
		Hostname:       vmName,
		FQDN:           naming.FQDN(vmName, cfg.SearchDomain),
		ManageEtcHosts: true,
		Users: []User{
			{
				Name:              cfg.CIUser,
				Sudo:              "ALL=(ALL) NOPASSWD:ALL",
				Shell:             "/bin/bash",
				LockPasswd:        true,
				SSHAuthorizedKeys: sshKeys,
			},
		},
		PackageUpdate: true,
		Packages:      mergePackages(cfg.ExtraPackages),
		RunCmd: []string{
			"systemctl enable qemu-guest-agent",
			"systemctl start qemu-guest-agent",
		},
		FinalMessage: fmt.Sprintf("%s provisioned after $UPTIME seconds", vmName),
	}

	if cfg.TailscaleAuthKey != "" {
		userData.RunCmd = append(userData.RunCmd, tailscaleCommands(cfg.TailscaleAuthKey, vmName)...)
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// The #cloud-config header is required by the cloud-init format spec.
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData renders NoCloud meta-data for seed ISO export.
// A fresh instance-id is generated per call so cloud-init treats every
// rendered seed as a first boot.
func GenerateMetaData(vmName string) (string, error) {
	if vmName == "" {
		return "", fmt.Errorf("VM name cannot be empty")
	}

	metaData := MetaData{
		InstanceID:    uuid.NewString(),
		LocalHostname: vmName,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// mergePackages combines the base package set with extras, dropping
// duplicates while preserving order.
func mergePackages(extra []string) []string {
	seen := make(map[string]bool, len(basePackages)+len(extra))
	out := make([]string, 0, len(basePackages)+len(extra))
	for _, p := range append(append([]string{}, basePackages...), extra...) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// tailscaleCommands returns the runcmd entries that join the VM to a
// tailnet on first boot. The auth key is embedded in the rendered
// snippet (which lives root-readable on the PVE host) but is never
// logged.
func tailscaleCommands(authKey, vmName string) []string {
	return []string{
		"curl -fsSL https://tailscale.com/install.sh | sh",
		fmt.Sprintf("tailscale up --authkey=%s --ssh --hostname=%s", authKey, vmName),
	}
}
