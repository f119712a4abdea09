package pve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a VM lookup matches nothing.
	ErrNotFound = errors.New("vm not found")

	// ErrVMExists is returned by collision checks when a VM with the
	// requested name already exists somewhere in the cluster.
	ErrVMExists = errors.New("vm already exists")
)

// fallbackFloorVMID is the lowest VMID the allocation fallback will
// hand out; Proxmox reserves IDs below 100 for internal use.
const fallbackFloorVMID = 100

// importedVolPattern extracts the volume ID from qm importdisk output:
// "Successfully imported disk as 'unused0:local-lvm:vm-105-disk-0'".
var importedVolPattern = regexp.MustCompile(`unused\d+:([^']+)`)

// Client issues Proxmox operations through a Runner.
type Client struct {
	run Runner
	log *zap.Logger
}

// NewClient returns a Client using the given runner.
func NewClient(run Runner, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{run: run, log: logger}
}

// NextVMID allocates the next free VMID.
//
// The primary source is `pvesh get /cluster/nextid`. If that fails
// (e.g. pvesh cannot reach the cluster status API), the fallback scans
// the cluster resource list and returns one past the highest allocated
// ID, with a floor of 100.
func (c *Client) NextVMID(ctx context.Context) (int, error) {
	out, err := c.run.Run(ctx, "pvesh", "get", "/cluster/nextid", "--output-format", "json")
	if err == nil {
		id, perr := parseVMID(out)
		if perr == nil {
			return id, nil
		}
		err = perr
	}

	c.log.Warn("pvesh nextid failed, falling back to resource scan", zap.Error(err))

	vms, lerr := c.ListVMs(ctx)
	if lerr != nil {
		return 0, fmt.Errorf("vmid allocation failed: nextid: %v; resource scan: %w", err, lerr)
	}

	next := fallbackFloorVMID
	for _, vm := range vms {
		if vm.VMID >= next {
			next = vm.VMID + 1
		}
	}
	return next, nil
}

// parseVMID parses pvesh nextid output, which is a bare or quoted number.
func parseVMID(out []byte) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(out)), `"`)
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unexpected nextid output %q: %w", s, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("nextid returned non-positive VMID %d", id)
	}
	return id, nil
}

// ListVMs returns all QEMU VMs known to the cluster.
func (c *Client) ListVMs(ctx context.Context) ([]VMSummary, error) {
	out, err := c.run.Run(ctx, "pvesh", "get", "/cluster/resources", "--type", "vm", "--output-format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster VMs: %w", err)
	}

	var vms []VMSummary
	if err := json.Unmarshal(out, &vms); err != nil {
		return nil, fmt.Errorf("failed to parse cluster resource list: %w", err)
	}
	return vms, nil
}

// FindVMByName looks a VM up by name across the cluster.
// Returns ErrNotFound if no VM carries the name.
func (c *Client) FindVMByName(ctx context.Context, name string) (VMSummary, error) {
	vms, err := c.ListVMs(ctx)
	if err != nil {
		return VMSummary{}, err
	}
	for _, vm := range vms {
		if vm.Name == name {
			return vm, nil
		}
	}
	return VMSummary{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// CheckNameAvailable returns ErrVMExists if a VM with the name exists.
func (c *Client) CheckNameAvailable(ctx context.Context, name string) error {
	vm, err := c.FindVMByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s (vmid %d on node %s)", ErrVMExists, name, vm.VMID, vm.Node)
}

// CreateVM defines a new VM shell. The disk is imported and attached
// separately.
func (c *Client) CreateVM(ctx context.Context, vmid int, opts CreateOptions) error {
	net0 := fmt.Sprintf("virtio,bridge=%s", opts.Bridge)
	if opts.VLAN > 0 {
		net0 += fmt.Sprintf(",tag=%d", opts.VLAN)
	}

	args := []string{
		"create", strconv.Itoa(vmid),
		"--name", opts.Name,
		"--cores", strconv.Itoa(opts.Cores),
		"--memory", strconv.Itoa(opts.MemoryMB),
		"--net0", net0,
		"--scsihw", "virtio-scsi-single",
		"--serial0", "socket",
		"--vga", "serial0",
		"--agent", "enabled=1",
		"--ostype", "l26",
	}

	if _, err := c.run.Run(ctx, "qm", args...); err != nil {
		return fmt.Errorf("failed to create VM %d: %w", vmid, err)
	}
	c.log.Info("vm created", zap.Int("vmid", vmid), zap.String("name", opts.Name))
	return nil
}

// ImportDisk imports a cloud image into the VM's storage and returns
// the resulting volume ID.
func (c *Client) ImportDisk(ctx context.Context, vmid int, imagePath, storage string) (string, error) {
	out, err := c.run.Run(ctx, "qm", "importdisk", strconv.Itoa(vmid), imagePath, storage)
	if err != nil {
		return "", fmt.Errorf("failed to import disk for VM %d: %w", vmid, err)
	}

	if m := importedVolPattern.FindStringSubmatch(string(out)); m != nil {
		return m[1], nil
	}

	// Older qm versions do not echo the volume ID; fall back to the
	// conventional first-disk name.
	vol := fmt.Sprintf("%s:vm-%d-disk-0", storage, vmid)
	c.log.Debug("importdisk output had no volume id, assuming conventional name",
		zap.Int("vmid", vmid), zap.String("volume", vol))
	return vol, nil
}

// AttachBootDisk attaches an imported volume as scsi0 and makes it the
// boot device.
func (c *Client) AttachBootDisk(ctx context.Context, vmid int, volume string) error {
	_, err := c.run.Run(ctx, "qm", "set", strconv.Itoa(vmid),
		"--scsi0", volume+",discard=on",
		"--boot", "order=scsi0",
	)
	if err != nil {
		return fmt.Errorf("failed to attach boot disk to VM %d: %w", vmid, err)
	}
	return nil
}

// ResizeDisk grows the VM's boot disk to sizeGB.
func (c *Client) ResizeDisk(ctx context.Context, vmid, sizeGB int) error {
	_, err := c.run.Run(ctx, "qm", "resize", strconv.Itoa(vmid), "scsi0", fmt.Sprintf("%dG", sizeGB))
	if err != nil {
		return fmt.Errorf("failed to resize disk of VM %d: %w", vmid, err)
	}
	return nil
}

// AttachCloudInit attaches the cloud-init drive and wires the VM to the
// rendered snippet, guest network settings, and SSH keys.
func (c *Client) AttachCloudInit(ctx context.Context, vmid int, opts CloudInitOptions) error {
	args := []string{
		"set", strconv.Itoa(vmid),
		"--ide2", fmt.Sprintf("%s:cloudinit", opts.Storage),
		"--cicustom", fmt.Sprintf("user=%s:snippets/%s", opts.SnippetsStorage, opts.SnippetName),
		"--ciuser", opts.CIUser,
		"--ipconfig0", opts.IPConfig,
	}
	if len(opts.DNS) > 0 {
		args = append(args, "--nameserver", strings.Join(opts.DNS, " "))
	}
	if opts.SearchDomain != "" {
		args = append(args, "--searchdomain", opts.SearchDomain)
	}
	if opts.SSHKeysFile != "" {
		args = append(args, "--sshkeys", opts.SSHKeysFile)
	}

	if _, err := c.run.Run(ctx, "qm", args...); err != nil {
		return fmt.Errorf("failed to attach cloud-init to VM %d: %w", vmid, err)
	}
	return nil
}

// SnippetDir resolves the filesystem directory snippets live in for a
// storage, verifying the storage actually carries the snippets content
// type.
func (c *Client) SnippetDir(ctx context.Context, storage string) (string, error) {
	out, err := c.run.Run(ctx, "pvesh", "get", "/storage/"+storage, "--output-format", "json")
	if err != nil {
		return "", fmt.Errorf("failed to query storage %q: %w", storage, err)
	}

	var info storageInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return "", fmt.Errorf("failed to parse storage %q config: %w", storage, err)
	}

	if !strings.Contains(info.Content, "snippets") {
		return "", fmt.Errorf("storage %q does not support the snippets content type (content=%s)", storage, info.Content)
	}
	if info.Path == "" {
		return "", fmt.Errorf("storage %q has no filesystem path; snippets require a directory-backed storage", storage)
	}

	return filepath.Join(info.Path, "snippets"), nil
}

// Start boots the VM.
func (c *Client) Start(ctx context.Context, vmid int) error {
	if _, err := c.run.Run(ctx, "qm", "start", strconv.Itoa(vmid)); err != nil {
		return fmt.Errorf("failed to start VM %d: %w", vmid, err)
	}
	c.log.Info("vm started", zap.Int("vmid", vmid))
	return nil
}

// Shutdown asks the guest to power off, waiting up to timeoutSec.
func (c *Client) Shutdown(ctx context.Context, vmid, timeoutSec int) error {
	_, err := c.run.Run(ctx, "qm", "shutdown", strconv.Itoa(vmid),
		"--timeout", strconv.Itoa(timeoutSec))
	if err != nil {
		return fmt.Errorf("failed to shut down VM %d: %w", vmid, err)
	}
	return nil
}

// Stop force-stops the VM.
func (c *Client) Stop(ctx context.Context, vmid int) error {
	if _, err := c.run.Run(ctx, "qm", "stop", strconv.Itoa(vmid)); err != nil {
		return fmt.Errorf("failed to stop VM %d: %w", vmid, err)
	}
	return nil
}

// Destroy removes the VM and purges it from job configurations,
// including any disks left unreferenced by a partial provisioning run.
func (c *Client) Destroy(ctx context.Context, vmid int) error {
	_, err := c.run.Run(ctx, "qm", "destroy", strconv.Itoa(vmid),
		"--purge", "1",
		"--destroy-unreferenced-disks", "1",
	)
	if err != nil {
		return fmt.Errorf("failed to destroy VM %d: %w", vmid, err)
	}
	c.log.Info("vm destroyed", zap.Int("vmid", vmid))
	return nil
}

// Status returns the VM's run state ("running", "stopped", ...).
func (c *Client) Status(ctx context.Context, vmid int) (string, error) {
	out, err := c.run.Run(ctx, "qm", "status", strconv.Itoa(vmid))
	if err != nil {
		return "", fmt.Errorf("failed to query status of VM %d: %w", vmid, err)
	}

	// Output shape: "status: running"
	s := strings.TrimSpace(string(out))
	if rest, ok := strings.CutPrefix(s, "status:"); ok {
		return strings.TrimSpace(rest), nil
	}
	return "", fmt.Errorf("unexpected qm status output for VM %d: %q", vmid, s)
}
