package provision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"
	utilexec "k8s.io/utils/exec"
)

const galaxyBinary = "ansible-galaxy"

// RoleInstaller puts the STIG role where ansible can find it, through
// ansible-galaxy when available and a direct git clone otherwise.
type RoleInstaller struct {
	Exec utilexec.Interface
	Log  zerolog.Logger
	// RolesPath is where roles are installed. Empty uses ansible's own
	// default search path.
	RolesPath string
	// CloneDepth limits git history when cloning, 0 for full.
	CloneDepth int
}

// Install fetches roleName from galaxy, or clones gitURL at gitRef when
// galaxy is unavailable or refuses. A role already present at the clone
// destination is left alone.
func (ri *RoleInstaller) Install(ctx context.Context, roleName, gitURL, gitRef string) error {
	if _, err := ri.Exec.LookPath(galaxyBinary); err == nil {
		args := []string{"install", roleName}
		if ri.RolesPath != "" {
			args = append(args, "-p", ri.RolesPath)
		}
		out, err := ri.Exec.CommandContext(ctx, galaxyBinary, args...).CombinedOutput()
		if err == nil {
			ri.Log.Info().Str("role", roleName).Msg("role installed from galaxy")
			return nil
		}
		ri.Log.Warn().Err(err).Str("role", roleName).Str("output", tail(out, 2)).
			Msg("galaxy install failed, falling back to git")
	}

	if gitURL == "" {
		return fmt.Errorf("no galaxy and no git source for role %s", roleName)
	}
	dest := filepath.Join(ri.RolesPath, roleName)
	opts := &git.CloneOptions{
		URL:          gitURL,
		Depth:        ri.CloneDepth,
		SingleBranch: true,
	}
	if gitRef != "" {
		opts.ReferenceName = plumbing.NewTagReferenceName(gitRef)
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		if errors.Is(err, git.ErrRepositoryAlreadyExists) {
			ri.Log.Debug().Str("dest", dest).Msg("role checkout already present")
			return nil
		}
		return fmt.Errorf("cloning role %s from %s: %v", roleName, gitURL, err)
	}
	ri.Log.Info().Str("role", roleName).Str("url", gitURL).Str("ref", gitRef).
		Msg("role cloned from git")
	return nil
}
