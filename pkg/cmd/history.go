package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/history"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var (
		limit int
		host  string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := history.Open(o.ledgerPath)
			if err != nil {
				return err
			}
			defer st.Close()

			var entries []history.Entry
			if host != "" {
				e, ok, err := st.LastForHost(cmd.Context(), host)
				if err != nil {
					return err
				}
				if ok {
					entries = []history.Entry{e}
				}
			} else {
				entries, err = st.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "WHEN\tHOST\tVERB\tSTRATEGY\tEXIT\tCOMPLIANT\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
					e.At.Local().Format(time.RFC3339), e.Host, e.Verb,
					e.Strategy, e.ExitCode, e.Compliant)
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.IntVar(&limit, "limit", 0, "show at most this many runs, 0 for the default")
	f.StringVar(&host, "host", "", "show only the most recent run for this host")
	return cmd
}
