package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/history"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/oscap"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/report"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

type localRunOptions struct {
	profile     string
	target      identityValue
	htmlPath    string
	xmlPath     string
	fetchRemote bool
}

func (lo *localRunOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&lo.profile, "profile", "stig", "XCCDF profile id or short suffix")
	f.Var(&lo.target, "target", "content target like centos10, default is the detected host OS")
	f.StringVar(&lo.htmlPath, "html", "", "HTML report path, default is timestamped under the report dir")
	f.StringVar(&lo.xmlPath, "xml", "", "ARF results path, default is timestamped under the report dir")
	f.BoolVar(&lo.fetchRemote, "fetch-remote-resources", false, "let oscap download referenced OVAL content")
}

func newScanCmd(o *rootOptions) *cobra.Command {
	lo := &localRunOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate this host against a STIG profile",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocalEvaluation(cmd, o, lo, "scan", oscap.ModeEvaluate)
		},
	}
	lo.bindFlags(cmd)
	return cmd
}

// runLocalEvaluation is the shared local path for scan, validate without
// a host, and remediate.
func runLocalEvaluation(cmd *cobra.Command, o *rootOptions, lo *localRunOptions, verb string, mode oscap.Mode) error {
	ds, err := o.resolveDatastream(cmd, lo.target.String(), scap.ResolveOptions{AllowRewrite: true})
	if err != nil {
		return err
	}

	sink := o.sink()
	if err := sink.Ensure(); err != nil {
		return err
	}
	htmlPath := lo.htmlPath
	if htmlPath == "" {
		htmlPath = sink.HTMLPath("localhost")
	}
	xmlPath := lo.xmlPath
	if xmlPath == "" {
		xmlPath = sink.XMLPath("localhost")
	}

	prof := expandProfile(lo.profile)
	out, err := o.scanner(lo.fetchRemote).Run(cmd.Context(), ds.ResolvedPath, prof, mode,
		oscap.ReportTargets{HTML: htmlPath, XML: xmlPath})
	if err != nil {
		return err
	}

	o.record(cmd, history.Entry{
		Host:       "localhost",
		Verb:       verb,
		Profile:    prof,
		Datastream: ds.ResolvedPath,
		Strategy:   ds.StrategyDetail(),
		Fidelity:   string(ds.Fidelity),
		ExitCode:   out.ExitCode,
		Compliant:  out.Compliant,
		Report:     htmlPath,
	})
	if _, err := sink.WriteSummary(report.RunSummary{
		Verb:       verb,
		Profile:    prof,
		Datastream: ds.ResolvedPath,
		Strategy:   ds.StrategyDetail(),
		Fidelity:   string(ds.Fidelity),
		Hosts: []report.HostSummary{{
			Host:      "localhost",
			ExitCode:  out.ExitCode,
			Compliant: out.Compliant,
			HTML:      htmlPath,
			XML:       xmlPath,
		}},
	}); err != nil {
		o.log.Warn().Err(err).Msg("could not write run summary")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", htmlPath)
	if !out.Compliant {
		fmt.Fprintf(cmd.OutOrStdout(), "rules failed, oscap exit %d\n", out.ExitCode)
	}
	return out.Err()
}
