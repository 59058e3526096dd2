package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Populated by the linker at release build time.
var (
	version = "devel"
	commit  = ""
)

func newVersionCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if commit != "" {
				fmt.Fprintf(out, "stigctl %s (%s)\n", version, commit)
			} else {
				fmt.Fprintf(out, "stigctl %s\n", version)
			}
			if v, err := o.scanner(false).Version(cmd.Context()); err == nil {
				fmt.Fprintf(out, "oscap %s\n", v)
			}
			return nil
		},
	}
}
