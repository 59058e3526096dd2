package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/ansible"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/history"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/oscap"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/remote"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/report"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

func newValidateCmd(o *rootOptions) *cobra.Command {
	lo := &localRunOptions{}
	var (
		inventoryPath string
		group         string
		remoteFlag    bool
		sshUser       string
		sshKey        string
		sshPassword   string
		sudo          bool
		waitSSH       time.Duration
		fleetLimit    int
		fleetPace     int
	)
	cmd := &cobra.Command{
		Use:   "validate [HOST]",
		Short: "Validate compliance locally, on one host, or across a fleet",
		Long: `validate without arguments evaluates this machine. With HOST, or
with --group over an inventory, it pushes the adapted datastream to each
target over SSH, runs oscap there and pulls the reports back. Remote
targets only need sshd and openscap-scanner.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := validateHosts(cmd, o, args, inventoryPath, group, remoteFlag)
			if err != nil {
				return err
			}
			if hosts == nil {
				return runLocalEvaluation(cmd, o, lo, "validate", oscap.ModeEvaluate)
			}

			// Remote targets default to CentOS Stream 10 content
			// rather than whatever this workstation runs.
			target := lo.target.String()
			if target == "" {
				target = scap.CentOS10.Short()
			}
			ds, err := o.resolveDatastream(cmd, target, scap.ResolveOptions{AllowRewrite: true})
			if err != nil {
				return err
			}
			sink := o.sink()
			if err := sink.Ensure(); err != nil {
				return err
			}

			prof := expandProfile(lo.profile)
			defaults := remote.Client{
				User:       sshUser,
				PrivateKey: sshKey,
				Password:   sshPassword,
				Log:        o.log,
			}
			fleet := &remote.Fleet{Log: o.log, Limit: fleetLimit, PerSecond: fleetPace}
			results := fleet.Run(cmd.Context(), hosts, func(ctx context.Context, h *ansible.Host) (remote.Outcome, error) {
				c := remote.ClientFor(h, defaults)
				if waitSSH > 0 {
					if err := c.WaitReady(ctx, 5*time.Second, waitSSH); err != nil {
						return remote.Outcome{Host: h.Name}, err
					}
				}
				return c.Evaluate(ctx, remote.Evaluation{
					Datastream: ds.ResolvedPath,
					Profile:    prof,
					LocalHTML:  sink.HTMLPath(h.Name),
					LocalXML:   sink.XMLPath(h.Name),
					Sudo:       sudo,
				})
			})

			sum := report.RunSummary{
				Verb:       "validate",
				Profile:    prof,
				Datastream: ds.ResolvedPath,
				Strategy:   ds.StrategyDetail(),
				Fidelity:   string(ds.Fidelity),
			}
			var failed int
			for _, r := range results {
				hs := report.HostSummary{
					Host:      r.Host,
					ExitCode:  r.Outcome.ExitCode,
					Compliant: r.Outcome.Compliant,
					HTML:      r.Outcome.HTMLPath,
					XML:       r.Outcome.XMLPath,
				}
				if r.Err != nil {
					hs.Error = r.Err.Error()
					failed++
				} else if !r.Outcome.Compliant {
					failed++
				}
				sum.Hosts = append(sum.Hosts, hs)
				o.record(cmd, history.Entry{
					Host:       r.Host,
					Verb:       "validate",
					Profile:    prof,
					Datastream: ds.ResolvedPath,
					Strategy:   ds.StrategyDetail(),
					Fidelity:   string(ds.Fidelity),
					ExitCode:   r.Outcome.ExitCode,
					Compliant:  r.Outcome.Compliant,
					Report:     r.Outcome.HTMLPath,
				})
			}
			if path, err := sink.WriteSummary(sum); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "summary: %s\n", path)
			} else {
				o.log.Warn().Err(err).Msg("could not write run summary")
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d hosts not compliant: %w",
					failed, len(results), scap.ErrPartialEvaluation)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d hosts compliant\n", len(results))
			return nil
		},
	}
	lo.bindFlags(cmd)
	f := cmd.Flags()
	f.StringVarP(&inventoryPath, "inventory", "i", os.Getenv(envInventory), "ansible inventory path")
	f.StringVar(&group, "group", "", "validate every host in this inventory group")
	f.BoolVar(&remoteFlag, "remote", false, "treat HOST as a remote target")
	f.StringVar(&sshUser, "user", "root", "SSH user")
	f.StringVar(&sshKey, "key", "", "SSH private key path")
	f.StringVar(&sshPassword, "password", os.Getenv(envSSHPassword), "SSH and sudo password")
	f.BoolVar(&sudo, "sudo", false, "run the remote evaluation under sudo")
	f.DurationVar(&waitSSH, "wait-ssh", 0, "wait up to this long for SSH to come up")
	f.IntVar(&fleetLimit, "max-parallel", 0, "concurrent hosts, 0 for the default")
	f.IntVar(&fleetPace, "per-second", 0, "host launches per second, 0 for the default")
	return cmd
}

// validateHosts decides between the local path (nil slice) and the
// remote host set.
func validateHosts(cmd *cobra.Command, o *rootOptions, args []string,
	inventoryPath, group string, remoteFlag bool) ([]*ansible.Host, error) {

	switch {
	case group != "":
		if inventoryPath == "" {
			return nil, usagef("--group requires --inventory")
		}
		inv, err := ansible.FetchInventory(cmd.Context(), utilexec.New(), inventoryPath)
		if err != nil {
			return nil, err
		}
		hosts := inv.Hosts(group)
		if len(hosts) == 0 {
			return nil, fmt.Errorf("no hosts in group %q of %s", group, inventoryPath)
		}
		return hosts, nil

	case len(args) == 1:
		if !remoteFlag {
			o.log.Warn().Str("host", args[0]).
				Msg("HOST given without --remote, validating it remotely")
		}
		h := &ansible.Host{Name: args[0], Vars: map[string]string{}}
		if inventoryPath != "" {
			inv, err := ansible.FetchInventory(cmd.Context(), utilexec.New(), inventoryPath)
			if err != nil {
				return nil, err
			}
			if found, ok := inv.Lookup(args[0]); ok {
				h = found
			}
		}
		return []*ansible.Host{h}, nil

	case remoteFlag:
		return nil, usagef("--remote needs a HOST or --group")

	default:
		return nil, nil
	}
}
