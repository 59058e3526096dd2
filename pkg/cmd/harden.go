package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/ansible"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/history"
)

func newHardenCmd(o *rootOptions) *cobra.Command {
	var (
		playbookPath string
		inventory    string
		varsFile     string
		namespace    string
		tags         []string
		limit        string
		check        bool
		yes          bool
		enableRules  []string
		disableRules []string
		extraVars    []string
	)
	cmd := &cobra.Command{
		Use:   "harden",
		Short: "Run the DISA STIG ansible role against inventory hosts",
		Long: `harden drives ansible-playbook with the DISA STIG role. Individual
rules are toggled through the role's <namespace>_stigrule_<id>_Manage
variables, kept in a vars file this command edits in place.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if playbookPath == "" {
				return usagef("--playbook is required")
			}
			if !check {
				err := confirm(cmd.OutOrStdout(), cmd.InOrStdin(), yes,
					"Hardening reconfigures the targeted hosts")
				if err != nil {
					return err
				}
			}

			if len(enableRules)+len(disableRules) > 0 {
				toggles := ansible.RuleToggles{Path: varsFile, Namespace: namespace}
				rules := map[string]bool{}
				for _, r := range enableRules {
					rules[r] = true
				}
				for _, r := range disableRules {
					rules[r] = false
				}
				if err := toggles.Set(rules); err != nil {
					return err
				}
				o.log.Info().Int("rules", len(rules)).Str("file", varsFile).
					Msg("rule toggles written")
			}
			if _, err := os.Stat(varsFile); err == nil {
				extraVars = append(extraVars, varsFile)
			}

			pb := &ansible.Playbook{
				Exec:      utilexec.New(),
				Log:       o.log,
				Playbook:  playbookPath,
				Inventory: inventory,
			}
			code, err := pb.Run(cmd.Context(), ansible.RunOptions{
				Tags:           tags,
				Limit:          limit,
				Check:          check,
				ExtraVarsFiles: extraVars,
			})

			host := limit
			if host == "" {
				host = "all"
			}
			verb := "harden"
			if check {
				verb = "harden-check"
			}
			o.record(cmd, history.Entry{
				Host:      host,
				Verb:      verb,
				ExitCode:  code,
				Compliant: err == nil,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "hardening finished")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&playbookPath, "playbook", "", "playbook wrapping the STIG role")
	f.StringVarP(&inventory, "inventory", "i", os.Getenv(envInventory), "ansible inventory path")
	f.StringVar(&varsFile, "vars-file", "stig-rules.yml", "vars file holding rule toggles")
	f.StringVar(&namespace, "rule-namespace", "rhel10stig", "role variable namespace for rule toggles")
	f.StringSliceVar(&tags, "tags", nil, "only run tasks with these tags")
	f.StringVar(&limit, "limit", "", "limit to matching inventory hosts")
	f.BoolVar(&check, "check", false, "report what would change without changing it")
	f.BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	f.StringSliceVar(&enableRules, "rule", nil, "enable a STIG rule id, repeatable")
	f.StringSliceVar(&disableRules, "no-rule", nil, "disable a STIG rule id, repeatable")
	f.StringSliceVar(&extraVars, "extra-vars-file", nil, "extra vars files passed to ansible, repeatable")
	return cmd
}
