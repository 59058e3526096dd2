// Package provision installs the external pieces the toolkit drives: the
// oscap scanner, SCAP Security Guide datastreams and the STIG role.
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

// Packages installed for scanning and hardening.
const (
	PkgScanner = "openscap-scanner"
	PkgGuide   = "scap-security-guide"
	PkgAnsible = "ansible-core"
)

// PackageManager drives dnf, or yum on older hosts. The zero Log is silent.
type PackageManager struct {
	Exec utilexec.Interface
	Log  zerolog.Logger
}

func (pm *PackageManager) manager() (string, error) {
	for _, m := range []string{"dnf", "yum"} {
		if _, err := pm.Exec.LookPath(m); err == nil {
			return m, nil
		}
	}
	return "", fmt.Errorf("neither dnf nor yum present: %w", scap.ErrToolMissing)
}

// Install installs packages with -y. A failed transaction is retried once;
// repository hiccups resolve on the second try often enough that one retry
// is worth it, looping is not.
func (pm *PackageManager) Install(ctx context.Context, pkgs ...string) error {
	mgr, err := pm.manager()
	if err != nil {
		return err
	}
	args := append([]string{"install", "-y"}, pkgs...)

	out, err := pm.Exec.CommandContext(ctx, mgr, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	pm.Log.Warn().Err(err).Str("manager", mgr).Strs("packages", pkgs).
		Msg("package install failed, retrying once")
	out, err = pm.Exec.CommandContext(ctx, mgr, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s install %s: %v: %s", mgr, strings.Join(pkgs, " "), err, tail(out, 3))
	}
	return nil
}

// Installed reports whether an RPM package is on the host.
func (pm *PackageManager) Installed(ctx context.Context, pkg string) bool {
	_, err := pm.Exec.CommandContext(ctx, "rpm", "-q", pkg).CombinedOutput()
	return err == nil
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
