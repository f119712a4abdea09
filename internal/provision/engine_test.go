package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntq-ops/pveforge/internal/config"
	"github.com/ntq-ops/pveforge/internal/naming"
	"github.com/ntq-ops/pveforge/internal/pve"
)

const testKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIJl3dAfVrPaLKyDj4TJSUmVQpO3HLbFFA6cT0DGKlKvP ops@example"

// fakeClient implements Client with configurable per-step failures and
// call tracking.
type fakeClient struct {
	snippetDir string

	failStep string // name of the step whose method should fail

	checkNameErr error

	createdVMID   int
	destroyedVMID int
	started       bool
	resized       int
	attachedCI    *pve.CloudInitOptions

	calls []string
}

func (f *fakeClient) step(name string) error {
	f.calls = append(f.calls, name)
	if f.failStep == name {
		return fmt.Errorf("injected %s failure", name)
	}
	return nil
}

func (f *fakeClient) NextVMID(ctx context.Context) (int, error) {
	if err := f.step("nextvmid"); err != nil {
		return 0, err
	}
	return 106, nil
}

func (f *fakeClient) CheckNameAvailable(ctx context.Context, name string) error {
	f.calls = append(f.calls, "checkname")
	return f.checkNameErr
}

func (f *fakeClient) SnippetDir(ctx context.Context, storage string) (string, error) {
	if err := f.step("snippetdir"); err != nil {
		return "", err
	}
	return f.snippetDir, nil
}

func (f *fakeClient) CreateVM(ctx context.Context, vmid int, opts pve.CreateOptions) error {
	if err := f.step("create"); err != nil {
		return err
	}
	f.createdVMID = vmid
	return nil
}

func (f *fakeClient) ImportDisk(ctx context.Context, vmid int, imagePath, storage string) (string, error) {
	if err := f.step("importdisk"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:vm-%d-disk-0", storage, vmid), nil
}

func (f *fakeClient) AttachBootDisk(ctx context.Context, vmid int, volume string) error {
	return f.step("attachdisk")
}

func (f *fakeClient) ResizeDisk(ctx context.Context, vmid, sizeGB int) error {
	if err := f.step("resize"); err != nil {
		return err
	}
	f.resized = sizeGB
	return nil
}

func (f *fakeClient) AttachCloudInit(ctx context.Context, vmid int, opts pve.CloudInitOptions) error {
	if err := f.step("attachci"); err != nil {
		return err
	}
	f.attachedCI = &opts
	return nil
}

func (f *fakeClient) Start(ctx context.Context, vmid int) error {
	if err := f.step("start"); err != nil {
		return err
	}
	f.started = true
	return nil
}

func (f *fakeClient) Stop(ctx context.Context, vmid int) error {
	f.calls = append(f.calls, "stop")
	return nil
}

func (f *fakeClient) Destroy(ctx context.Context, vmid int) error {
	f.calls = append(f.calls, "destroy")
	f.destroyedVMID = vmid
	return nil
}

type fakeImages struct {
	path string
	err  error
}

func (f *fakeImages) Ensure(ctx context.Context, url, checksum string) (string, error) {
	return f.path, f.err
}

func fakeKeys(ctx context.Context, source string) ([]string, error) {
	return []string{testKey}, nil
}

func testConfig(t *testing.T) *config.ProvisionConfig {
	t.Helper()
	cfg := &config.ProvisionConfig{
		Name:         naming.Spec{Customer: "acme", Role: "web", Index: 2},
		DHCP:         true,
		SSHKeySource: "https://keys.example.net/ops.pub",
		ImageURL:     "https://images.example.net/noble.img",
	}
	cfg.Normalize(config.Defaults{
		Storage:         "local-lvm",
		SnippetsStorage: "local",
		Bridge:          "vmbr0",
		CIUser:          "admin",
	})
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestEngine(t *testing.T, client *fakeClient) *Engine {
	t.Helper()
	if client.snippetDir == "" {
		client.snippetDir = t.TempDir()
	}
	return New(client, &fakeImages{path: "/cache/noble.img"}, fakeKeys, nil)
}

func TestProvisionHappyPath(t *testing.T) {
	client := &fakeClient{}
	engine := newTestEngine(t, client)

	res, err := engine.Provision(context.Background(), testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "acme-web2", res.Name)
	assert.Equal(t, 106, res.VMID)
	assert.True(t, res.Started)
	assert.Equal(t, "/cache/noble.img", res.ImagePath)

	// Snippet written with the rendered user-data.
	data, err := os.ReadFile(res.SnippetPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#cloud-config\n"))
	assert.Contains(t, string(data), "acme-web2")
	assert.Equal(t, filepath.Join(client.snippetDir, "acme-web2-user-data.yaml"), res.SnippetPath)

	// Cloud-init wired to the snippet, with the drive on the boot-disk
	// storage rather than the snippets storage.
	require.NotNil(t, client.attachedCI)
	assert.Equal(t, "local-lvm", client.attachedCI.Storage)
	assert.Equal(t, "local", client.attachedCI.SnippetsStorage)
	assert.Equal(t, "acme-web2-user-data.yaml", client.attachedCI.SnippetName)
	assert.Equal(t, "ip=dhcp", client.attachedCI.IPConfig)
	assert.Equal(t, 20, client.resized)
	assert.True(t, client.started)
	assert.Zero(t, client.destroyedVMID, "no rollback on success")
}

func TestProvisionNoStart(t *testing.T) {
	client := &fakeClient{}
	engine := newTestEngine(t, client)

	cfg := testConfig(t)
	cfg.NoStart = true

	res, err := engine.Provision(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, res.Started)
	assert.False(t, client.started)
}

func TestProvisionNameCollisionAborts(t *testing.T) {
	client := &fakeClient{
		checkNameErr: fmt.Errorf("%w: acme-web2", pve.ErrVMExists),
	}
	engine := newTestEngine(t, client)

	_, err := engine.Provision(context.Background(), testConfig(t))
	require.ErrorIs(t, err, pve.ErrVMExists)

	// A collision is permanent: exactly one check, no VM created.
	count := 0
	for _, c := range client.calls {
		if c == "checkname" {
			count++
		}
	}
	assert.Equal(t, 1, count, "collision must not be retried")
	assert.Zero(t, client.createdVMID)
}

func TestProvisionRollbackOnLateFailure(t *testing.T) {
	client := &fakeClient{failStep: "resize"}
	engine := newTestEngine(t, client)

	_, err := engine.Provision(context.Background(), testConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resize")

	// The created VM is destroyed and the snippet is gone.
	assert.Equal(t, 106, client.destroyedVMID)
	entries, rerr := os.ReadDir(client.snippetDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "snippet must be removed on rollback")
}

func TestProvisionRollbackOnStartFailure(t *testing.T) {
	client := &fakeClient{failStep: "start"}
	engine := newTestEngine(t, client)

	_, err := engine.Provision(context.Background(), testConfig(t))
	require.Error(t, err)
	assert.Equal(t, 106, client.destroyedVMID)
}

func TestProvisionNoRollbackBeforeCreation(t *testing.T) {
	client := &fakeClient{failStep: "snippetdir"}
	engine := newTestEngine(t, client)
	client.snippetDir = t.TempDir()

	old := retryBackoff
	retryBackoff = 0
	defer func() { retryBackoff = old }()

	_, err := engine.Provision(context.Background(), testConfig(t))
	require.Error(t, err)
	assert.Zero(t, client.destroyedVMID, "nothing to destroy before qm create")
}

func TestProvisionRetriesTransientReads(t *testing.T) {
	old := retryBackoff
	retryBackoff = 0
	defer func() { retryBackoff = old }()

	calls := 0
	flaky := func(ctx context.Context, source string) ([]string, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("transient network error")
		}
		return []string{testKey}, nil
	}

	client := &fakeClient{snippetDir: t.TempDir()}
	engine := New(client, &fakeImages{path: "/cache/noble.img"}, flaky, nil)

	_, err := engine.Provision(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestProvisionInvalidConfig(t *testing.T) {
	engine := newTestEngine(t, &fakeClient{})

	cfg := testConfig(t)
	cfg.ImageURL = ""

	_, err := engine.Provision(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
