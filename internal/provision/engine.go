// Package provision orchestrates VM creation end to end: name and VMID
// allocation, image download, cloud-init rendering, and the qm calls
// that assemble and boot the VM.
//
// Failures roll back in reverse order so a half-created VM or a stale
// snippet never survives a failed run. Cached image downloads are the
// one artifact deliberately kept.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ntq-ops/pveforge/internal/cloudinit"
	"github.com/ntq-ops/pveforge/internal/config"
	"github.com/ntq-ops/pveforge/internal/naming"
	"github.com/ntq-ops/pveforge/internal/pve"
)

// Client is the subset of the Proxmox client the engine drives.
// Satisfied by *pve.Client in production and by fakes in tests.
type Client interface {
	NextVMID(ctx context.Context) (int, error)
	CheckNameAvailable(ctx context.Context, name string) error
	SnippetDir(ctx context.Context, storage string) (string, error)
	CreateVM(ctx context.Context, vmid int, opts pve.CreateOptions) error
	ImportDisk(ctx context.Context, vmid int, imagePath, storage string) (string, error)
	AttachBootDisk(ctx context.Context, vmid int, volume string) error
	ResizeDisk(ctx context.Context, vmid, sizeGB int) error
	AttachCloudInit(ctx context.Context, vmid int, opts pve.CloudInitOptions) error
	Start(ctx context.Context, vmid int) error
	Stop(ctx context.Context, vmid int) error
	Destroy(ctx context.Context, vmid int) error
}

// ImageCache provides local paths for cloud images.
type ImageCache interface {
	Ensure(ctx context.Context, url, checksum string) (string, error)
}

// KeyFetcher retrieves authorized SSH keys from a URL or file.
type KeyFetcher func(ctx context.Context, source string) ([]string, error)

// Result describes a successfully provisioned VM.
type Result struct {
	Name        string
	VMID        int
	SnippetPath string
	ImagePath   string
	Started     bool
}

// Engine runs the provisioning state machine.
type Engine struct {
	client    Client
	images    ImageCache
	fetchKeys KeyFetcher
	log       *zap.Logger
}

// New returns an Engine.
func New(client Client, images ImageCache, fetchKeys KeyFetcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:    client,
		images:    images,
		fetchKeys: fetchKeys,
		log:       logger,
	}
}

// Provision creates and boots a VM per cfg.
//
// Step order: validate → collision check → allocate VMID → fetch keys →
// ensure image → resolve snippet dir → render snippet → write snippet →
// create VM → import disk → attach disk → resize → attach cloud-init →
// start. On failure, completed steps are rolled back in reverse and the
// original error is returned, annotated if rollback itself failed.
func (e *Engine) Provision(ctx context.Context, cfg *config.ProvisionConfig) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provision configuration cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	name := cfg.VMName()
	log := e.log.With(
		zap.String("run", uuid.NewString()),
		zap.String("vm", name),
	)

	// Rollback state.
	var (
		snippetPath string
		createdVMID int
	)
	var provErr error
	defer func() {
		if provErr != nil {
			if rbErr := e.rollback(log, createdVMID, snippetPath); rbErr != nil {
				provErr = fmt.Errorf("%w (rollback incomplete: %v)", provErr, rbErr)
			}
		}
	}()

	log.Info("checking name availability")
	provErr = retry(ctx, log, "collision check", func() error {
		return e.client.CheckNameAvailable(ctx, name)
	}, func(err error) bool { return errors.Is(err, pve.ErrVMExists) })
	if provErr != nil {
		return nil, provErr
	}

	log.Info("allocating vmid")
	var vmid int
	provErr = retry(ctx, log, "vmid allocation", func() error {
		var err error
		vmid, err = e.client.NextVMID(ctx)
		return err
	}, nil)
	if provErr != nil {
		return nil, provErr
	}
	log = log.With(zap.Int("vmid", vmid))

	log.Info("fetching ssh keys", zap.String("source", cfg.SSHKeySource))
	var sshKeys []string
	provErr = retry(ctx, log, "ssh key fetch", func() error {
		var err error
		sshKeys, err = e.fetchKeys(ctx, cfg.SSHKeySource)
		return err
	}, nil)
	if provErr != nil {
		return nil, provErr
	}

	log.Info("ensuring image", zap.String("url", cfg.ImageURL))
	var imagePath string
	provErr = retry(ctx, log, "image download", func() error {
		var err error
		imagePath, err = e.images.Ensure(ctx, cfg.ImageURL, cfg.ImageChecksum)
		return err
	}, nil)
	if provErr != nil {
		return nil, provErr
	}

	log.Info("resolving snippet directory", zap.String("storage", cfg.SnippetsStorage))
	var snippetDir string
	provErr = retry(ctx, log, "snippet dir lookup", func() error {
		var err error
		snippetDir, err = e.client.SnippetDir(ctx, cfg.SnippetsStorage)
		return err
	}, nil)
	if provErr != nil {
		return nil, provErr
	}

	log.Info("rendering cloud-init snippet")
	userData, err := cloudinit.GenerateUserData(cfg, sshKeys)
	if err != nil {
		provErr = fmt.Errorf("failed to render cloud-init snippet: %w", err)
		return nil, provErr
	}

	snippetName := naming.SnippetName(name)
	path := filepath.Join(snippetDir, snippetName)
	log.Info("writing snippet", zap.String("path", path))
	if err := os.WriteFile(path, []byte(userData), 0o640); err != nil {
		provErr = fmt.Errorf("failed to write snippet %s: %w", path, err)
		return nil, provErr
	}
	snippetPath = path

	log.Info("creating vm")
	provErr = e.client.CreateVM(ctx, vmid, pve.CreateOptions{
		Name:     name,
		Cores:    cfg.Cores,
		MemoryMB: cfg.MemoryMB,
		Bridge:   cfg.Bridge,
		VLAN:     cfg.VLAN,
	})
	if provErr != nil {
		return nil, provErr
	}
	createdVMID = vmid

	log.Info("importing disk", zap.String("image", imagePath))
	volume, err := e.client.ImportDisk(ctx, vmid, imagePath, cfg.Storage)
	if err != nil {
		provErr = err
		return nil, provErr
	}

	log.Info("attaching boot disk", zap.String("volume", volume))
	if provErr = e.client.AttachBootDisk(ctx, vmid, volume); provErr != nil {
		return nil, provErr
	}

	log.Info("resizing disk", zap.Int("size_gb", cfg.DiskGB))
	if provErr = e.client.ResizeDisk(ctx, vmid, cfg.DiskGB); provErr != nil {
		return nil, provErr
	}

	log.Info("attaching cloud-init")
	keysFile, cleanup, err := writeKeysFile(sshKeys)
	if err != nil {
		provErr = err
		return nil, provErr
	}
	defer cleanup()

	provErr = e.client.AttachCloudInit(ctx, vmid, pve.CloudInitOptions{
		Storage:         cfg.Storage,
		SnippetsStorage: cfg.SnippetsStorage,
		SnippetName:     snippetName,
		CIUser:          cfg.CIUser,
		IPConfig:        cfg.IPConfig(),
		DNS:             cfg.DNS,
		SearchDomain:    cfg.SearchDomain,
		SSHKeysFile:     keysFile,
	})
	if provErr != nil {
		return nil, provErr
	}

	started := false
	if !cfg.NoStart {
		log.Info("starting vm")
		if provErr = e.client.Start(ctx, vmid); provErr != nil {
			return nil, provErr
		}
		started = true
	}

	log.Info("provisioning complete")
	return &Result{
		Name:        name,
		VMID:        vmid,
		SnippetPath: snippetPath,
		ImagePath:   imagePath,
		Started:     started,
	}, nil
}

// rollback undoes completed steps in reverse order. The image cache is
// left alone: downloads are expensive and reusable.
func (e *Engine) rollback(log *zap.Logger, vmid int, snippetPath string) error {
	var failures []string

	if vmid != 0 {
		log.Warn("rolling back: destroying vm", zap.Int("vmid", vmid))
		// A failed start can leave the VM half-running; stop is
		// best-effort before destroy.
		_ = e.client.Stop(context.Background(), vmid)
		if err := e.client.Destroy(context.Background(), vmid); err != nil {
			log.Error("rollback: destroy failed", zap.Error(err))
			failures = append(failures, fmt.Sprintf("destroy vm %d: %v", vmid, err))
		}
	}

	if snippetPath != "" {
		log.Warn("rolling back: removing snippet", zap.String("path", snippetPath))
		if err := os.Remove(snippetPath); err != nil && !os.IsNotExist(err) {
			log.Error("rollback: snippet removal failed", zap.Error(err))
			failures = append(failures, fmt.Sprintf("remove snippet: %v", err))
		}
	}

	if len(failures) > 0 {
		return errors.New(strings.Join(failures, "; "))
	}
	return nil
}

// writeKeysFile stages the authorized keys in a temp file for
// `qm set --sshkeys`, which only accepts a file path.
func writeKeysFile(keys []string) (string, func(), error) {
	f, err := os.CreateTemp("", "pveforge-sshkeys-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create ssh keys temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := f.WriteString(strings.Join(keys, "\n") + "\n"); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write ssh keys temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close ssh keys temp file: %w", err)
	}
	return path, cleanup, nil
}
