package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

func newContentCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Resolve, adapt and inspect SCAP datastream content",
	}
	cmd.AddCommand(
		newContentResolveCmd(o),
		newContentAdaptCmd(o),
		newContentInfoCmd(o),
	)
	return cmd
}

func printDatastream(cmd *cobra.Command, ds *scap.AdaptedDatastream) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:     %s\n", ds.ResolvedPath)
	fmt.Fprintf(out, "strategy: %s\n", ds.Strategy)
	fmt.Fprintf(out, "fidelity: %s\n", ds.Fidelity)
	if !ds.SourceIdentity.IsZero() {
		fmt.Fprintf(out, "source:   %s\n", ds.SourceIdentity.Short())
	}
	if ds.RewriteVariant != "" {
		fmt.Fprintf(out, "rewrite:  %s\n", ds.RewriteVariant)
	}
}

func newContentResolveCmd(o *rootOptions) *cobra.Command {
	var target identityValue
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Locate or borrow a datastream without rewriting content",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := o.resolveDatastream(cmd, target.String(), scap.ResolveOptions{})
			if err != nil {
				return err
			}
			printDatastream(cmd, ds)
			return nil
		},
	}
	cmd.Flags().Var(&target, "target", "content target like centos10, default is the detected host OS")
	return cmd
}

func newContentAdaptCmd(o *rootOptions) *cobra.Command {
	var (
		target    identityValue
		rewrite   bool
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "adapt",
		Short: "Produce an adapted datastream for the target OS",
		Long: `adapt materializes a datastream for the target, borrowing the closest
vendor content when none exists. --rewrite skips the cheaper strategies
and rewrites the source's OS markers outright.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := o.resolveDatastream(cmd, target.String(), scap.ResolveOptions{
				AllowRewrite: true,
				ForceRewrite: rewrite,
				Overwrite:    overwrite,
			})
			if err != nil {
				return err
			}
			printDatastream(cmd, ds)
			return nil
		},
	}
	f := cmd.Flags()
	f.Var(&target, "target", "content target like centos10, default is the detected host OS")
	f.BoolVar(&rewrite, "rewrite", false, "force the marker rewrite strategy")
	f.BoolVar(&overwrite, "overwrite", false, "replace an existing adaptation")
	return cmd
}

func newContentInfoCmd(o *rootOptions) *cobra.Command {
	var (
		target     identityValue
		datastream string
	)
	cmd := &cobra.Command{
		Use:   "info",
		Short: "List the profiles a datastream offers",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := datastream
			if path == "" {
				ds, err := o.resolveDatastream(cmd, target.String(), scap.ResolveOptions{AllowRewrite: true})
				if err != nil {
					return err
				}
				path = ds.ResolvedPath
			}
			profiles, err := o.scanner(false).Profiles(cmd.Context(), path)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "PROFILE\tTITLE\n")
			for _, p := range profiles {
				fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Title)
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.Var(&target, "target", "content target like centos10, default is the detected host OS")
	f.StringVar(&datastream, "datastream", "", "inspect this datastream path instead of resolving one")
	return cmd
}
