// Package pve wraps the Proxmox VE node command line tools (qm, pvesh,
// pvesm). All VM lifecycle work is delegated to these tools; this
// package only shapes arguments and parses output.
//
// The tool must run on the PVE node itself with sufficient privileges
// to invoke qm.
package pve

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// requiredTools are the node binaries provisioning depends on.
var requiredTools = []string{"qm", "pvesh", "pvesm"}

// defaultCommandTimeout bounds a single tool invocation. Disk imports
// of multi-GB images are the slowest operation covered by it.
const defaultCommandTimeout = 10 * time.Minute

// Runner executes a node command and returns its stdout.
//
// In production this is satisfied by *ExecRunner; tests substitute a
// fake recording invocations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec with a per-command timeout.
type ExecRunner struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewExecRunner returns an ExecRunner with the default timeout.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{Timeout: defaultCommandTimeout, Logger: logger}
}

// Run executes name with args, capturing stdout and stderr separately.
// On failure the returned error carries the trimmed stderr so callers
// surface the tool's own diagnostic instead of just an exit code.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.Logger.Debug("running command",
		zap.String("command", name),
		zap.Strings("args", args),
	)

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), msg, err)
		}
		return stdout.Bytes(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}

	return stdout.Bytes(), nil
}

// Preflight verifies the required Proxmox tools are on PATH.
func Preflight() error {
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("required tool %q not found; pveforge must run on a Proxmox VE node: %w", tool, err)
		}
	}
	return nil
}
