package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/oscap"
)

func newRemediateCmd(o *rootOptions) *cobra.Command {
	lo := &localRunOptions{}
	var yes bool
	cmd := &cobra.Command{
		Use:   "remediate",
		Short: "Apply the datastream's fixes to this host",
		Long: `remediate evaluates this host and applies the fix scripts the
datastream carries for every failed rule. Changes are live system
changes; take a snapshot or backup first.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := confirm(cmd.OutOrStdout(), cmd.InOrStdin(), yes,
				"Remediation rewrites live system configuration")
			if err != nil {
				return err
			}
			return runLocalEvaluation(cmd, o, lo, "remediate", oscap.ModeRemediate)
		},
	}
	lo.bindFlags(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	return cmd
}
