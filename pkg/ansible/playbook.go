// Package ansible wraps the ansible toolchain that applies the DISA STIG
// role and manages its per-rule toggles and inventory.
package ansible

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

const playbookBinary = "ansible-playbook"

// Playbook runs one playbook against one inventory. The zero Log is silent.
type Playbook struct {
	Exec      utilexec.Interface
	Log       zerolog.Logger
	Playbook  string
	Inventory string
}

// RunOptions narrow one playbook run.
type RunOptions struct {
	Tags  []string
	Limit string
	// Check asks ansible to predict changes without applying them.
	Check bool
	// ExtraVarsFiles are passed as -e @file, later files winning.
	ExtraVarsFiles []string
}

// Run executes the playbook and returns ansible's exit code. Exit 4 means
// hosts were unreachable and wraps the connectivity sentinel; any other
// non-zero exit is a hardening failure with the output tail attached.
func (p *Playbook) Run(ctx context.Context, opts RunOptions) (int, error) {
	if _, err := p.Exec.LookPath(playbookBinary); err != nil {
		return -1, fmt.Errorf("%s: %w", playbookBinary, scap.ErrToolMissing)
	}

	var args []string
	if p.Inventory != "" {
		args = append(args, "-i", p.Inventory)
	}
	if len(opts.Tags) > 0 {
		args = append(args, "--tags", strings.Join(opts.Tags, ","))
	}
	if opts.Limit != "" {
		args = append(args, "--limit", opts.Limit)
	}
	if opts.Check {
		args = append(args, "--check")
	}
	for _, f := range opts.ExtraVarsFiles {
		args = append(args, "-e", "@"+f)
	}
	args = append(args, p.Playbook)

	p.Log.Debug().Str("binary", playbookBinary).Strs("args", args).Msg("running playbook")
	out, err := p.Exec.CommandContext(ctx, playbookBinary, args...).CombinedOutput()
	if err == nil {
		return 0, nil
	}
	ee, ok := err.(utilexec.ExitError)
	if !ok {
		return -1, fmt.Errorf("running %s: %v", playbookBinary, err)
	}
	code := ee.ExitStatus()
	if code == 4 {
		return code, fmt.Errorf("unreachable hosts: %s: %w", tail(out, 3), scap.ErrConnectivity)
	}
	return code, fmt.Errorf("%s exited %d: %s", playbookBinary, code, tail(out, 3))
}

func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, " | ")
}
