// Package cmd is the stigctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/history"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/oscap"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/provision"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/report"
	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

const (
	defaultLedgerPath = "/var/lib/stigctl/history.db"
	envInventory      = "STIGCTL_INVENTORY"
	envSSHPassword    = "STIGCTL_SSH_PASSWORD"
)

type rootOptions struct {
	logLevel   string
	contentDir string
	scratchDir string
	reportDir  string
	ledgerPath string
	timeout    time.Duration
	noColor    bool

	log    zerolog.Logger
	cancel context.CancelFunc
}

// usageError marks argument and flag mistakes so main can exit 2 for
// them and 1 for operational failures.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func usagef(format string, a ...interface{}) error {
	return usageError{fmt.Errorf(format, a...)}
}

// IsUsage reports whether err was an argument or flag mistake.
func IsUsage(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

// NewRootCommand builds the stigctl command tree.
func NewRootCommand() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "stigctl",
		Short: "DISA STIG compliance for CentOS Stream with adapted RHEL SCAP content",
		Long: `stigctl scans, remediates and hardens CentOS Stream hosts against the
DISA STIG. CentOS ships no vendor datastream, so stigctl adapts the
closest RHEL SCAP Security Guide content it can find, by symlink, copy
or marker rewrite, and drives oscap and the STIG ansible role with it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(); err != nil {
				return err
			}
			if o.timeout > 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
				o.cancel = cancel
				cmd.SetContext(ctx)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if o.cancel != nil {
				o.cancel()
			}
		},
		// Runnable so the Args check below fires; cobra skips argument
		// validation entirely on bare command groups.
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&o.contentDir, "content-dir", scap.DefaultContentDir, "SCAP datastream directory")
	pf.StringVar(&o.scratchDir, "scratch-dir", "/var/tmp", "scratch space for staged files")
	pf.StringVar(&o.reportDir, "report-dir", report.DefaultDir, "directory for report artifacts")
	pf.StringVar(&o.ledgerPath, "ledger", defaultLedgerPath, "run history database path")
	pf.DurationVar(&o.timeout, "timeout", 0, "give up after this long, 0 for no limit")
	pf.BoolVar(&o.noColor, "no-color", false, "disable colored log output")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	// Unmatched leftovers at the root are mistyped subcommands.
	root.Args = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return usagef("unknown command %q", args[0])
		}
		return nil
	}

	root.AddCommand(
		newScanCmd(o),
		newRemediateCmd(o),
		newHardenCmd(o),
		newValidateCmd(o),
		newContentCmd(o),
		newSetupCmd(o),
		newHistoryCmd(o),
		newVersionCmd(o),
	)
	return root
}

func (o *rootOptions) complete() error {
	lvl, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return usagef("unknown log level %q", o.logLevel)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen, NoColor: o.noColor}
	o.log = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

func (o *rootOptions) locator() scap.Locator {
	return scap.Locator{ContentDir: o.contentDir, ScratchDir: o.scratchDir}
}

func (o *rootOptions) resolver() *scap.Resolver {
	execer := utilexec.New()
	return &scap.Resolver{
		Locator: o.locator(),
		Provisioner: &provision.Provisioner{
			Packages: &provision.PackageManager{Exec: execer, Log: o.log},
			Content:  &provision.ContentFetcher{Locator: o.locator(), Log: o.log},
			Log:      o.log,
		},
		Log: o.log,
	}
}

func (o *rootOptions) scanner(fetchRemote bool) *oscap.Scanner {
	s := oscap.New(utilexec.New())
	s.Log = o.log
	s.FetchRemoteResources = fetchRemote
	return s
}

func (o *rootOptions) sink() *report.Sink {
	s := report.NewSink(o.reportDir)
	s.Log = o.log
	return s
}

// identityValue is a --target flag value, validated while flags parse so
// a typo fails before any work starts. Empty means the detected host OS.
type identityValue struct{ s string }

var _ pflag.Value = (*identityValue)(nil)

func (v *identityValue) String() string { return v.s }
func (v *identityValue) Type() string   { return "os" }

func (v *identityValue) Set(s string) error {
	if _, err := scap.ParseShort(s); err != nil {
		return err
	}
	v.s = s
	return nil
}

// targetIdentity picks the OS whose datastream we need: an explicit
// --target, or whatever this host is.
func (o *rootOptions) targetIdentity(target string) (scap.OSIdentity, error) {
	if target != "" {
		id, err := scap.ParseShort(target)
		if err != nil {
			return scap.OSIdentity{}, usagef("bad --target %q: %v", target, err)
		}
		return id, nil
	}
	return scap.DetectHost()
}

// resolveDatastream resolves content for the target and flags anything
// that is not exact vendor content.
func (o *rootOptions) resolveDatastream(cmd *cobra.Command, target string, opts scap.ResolveOptions) (*scap.AdaptedDatastream, error) {
	id, err := o.targetIdentity(target)
	if err != nil {
		return nil, err
	}
	ds, err := o.resolver().Resolve(cmd.Context(), id, opts)
	if err != nil {
		return nil, err
	}
	if ds.Fidelity == scap.FidelityApproximate {
		o.log.Warn().Str("path", ds.ResolvedPath).
			Str("source", ds.SourceIdentity.String()).
			Str("strategy", string(ds.Strategy)).
			Msg("using adapted vendor content, results are approximate")
	}
	return ds, nil
}

// record appends to the ledger. A broken ledger is logged, never fatal
// to the verb that did the real work.
func (o *rootOptions) record(cmd *cobra.Command, e history.Entry) {
	st, err := history.Open(o.ledgerPath)
	if err != nil {
		o.log.Warn().Err(err).Msg("history ledger unavailable")
		return
	}
	defer st.Close()
	st.Log = o.log
	if _, err := st.Record(cmd.Context(), e); err != nil {
		o.log.Warn().Err(err).Msg("could not record run")
	}
}

// expandProfile accepts both full XCCDF ids and the short suffix form
// oscap users habitually type.
func expandProfile(p string) string {
	if strings.HasPrefix(p, "xccdf_") {
		return p
	}
	return "xccdf_org.ssgproject.content_profile_" + p
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("%s takes no arguments", cmd.Name())
	}
	return nil
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usagef("%s takes at most %d argument(s)", cmd.Name(), n)
		}
		return nil
	}
}
