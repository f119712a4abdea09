package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"

	"github.com/ntq-ops/pveforge/internal/config"
)

// GenerateSeedISO builds a cloud-init NoCloud seed image for a VM.
//
// This is the fallback delivery path for hosts whose snippet storage
// does not carry the "snippets" content type: the resulting ISO can be
// attached to the VM as a CD-ROM instead of using --cicustom.
//
// The image contains user-data and meta-data in the root directory and
// uses the volume label "CIDATA" required by the NoCloud datasource.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
func GenerateSeedISO(cfg *config.ProvisionConfig, sshKeys []string) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provision configuration cannot be nil")
	}

	userData, err := GenerateUserData(cfg, sshKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(cfg.VMName())
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup removes the writer's temp files; the ISO bytes are
		// already in the buffer by the time this runs.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
