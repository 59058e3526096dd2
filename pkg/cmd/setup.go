package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/provision"
)

const (
	defaultRoleName = "RedHatOfficial.rhel10_stig"
	defaultRoleURL  = "https://github.com/RedHatOfficial/ansible-role-rhel10-stig"
)

func newSetupCmd(o *rootOptions) *cobra.Command {
	var (
		upstream  bool
		roleName  string
		roleURL   string
		roleRef   string
		rolesPath string
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Install the scanner, SCAP content and the STIG role",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			execer := utilexec.New()

			pm := &provision.PackageManager{Exec: execer, Log: o.log}
			err := pm.Install(ctx, provision.PkgScanner, provision.PkgGuide, provision.PkgAnsible)
			if err != nil {
				return err
			}
			o.log.Info().Msg("packages installed")

			if upstream {
				cf := &provision.ContentFetcher{Locator: o.locator(), Log: o.log}
				latest, newer, err := cf.UpdateAvailable(ctx)
				if err != nil {
					return err
				}
				if newer {
					if err := cf.Fetch(ctx, latest); err != nil {
						return err
					}
				} else {
					o.log.Info().Str("version", latest.String()).Msg("upstream content already current")
				}
			}

			ri := &provision.RoleInstaller{Exec: execer, Log: o.log, RolesPath: rolesPath}
			if err := ri.Install(ctx, roleName, roleURL, roleRef); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "setup complete")
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&upstream, "upstream", false, "also fetch the newest SCAP Security Guide release")
	f.StringVar(&roleName, "role", defaultRoleName, "galaxy name of the STIG role")
	f.StringVar(&roleURL, "role-url", defaultRoleURL, "git fallback for the STIG role")
	f.StringVar(&roleRef, "role-ref", "", "git tag to pin the role to")
	f.StringVar(&rolesPath, "roles-path", "/etc/ansible/roles", "where roles are installed")
	return cmd
}
