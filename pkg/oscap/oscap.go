// Package oscap drives the oscap(8) command line tool for datastream
// evaluation and remediation.
package oscap

import (
	"context"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/rs/zerolog"
	utilexec "k8s.io/utils/exec"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

const binary = "oscap"

// Mode selects what a run does with failing rules.
type Mode string

const (
	// ModeEvaluate reports rule results without touching the host.
	ModeEvaluate Mode = "evaluate"
	// ModeRemediate applies the datastream's fix scripts after evaluating.
	ModeRemediate Mode = "remediate"
)

// ReportTargets names the artifacts a run writes. Empty fields disable the
// corresponding report.
type ReportTargets struct {
	HTML string
	XML  string
}

func (rt ReportTargets) paths() []string {
	var p []string
	if rt.HTML != "" {
		p = append(p, rt.HTML)
	}
	if rt.XML != "" {
		p = append(p, rt.XML)
	}
	return p
}

// ExitOutcome is the result of a finished run. Rule failures are an
// outcome, not an execution error.
type ExitOutcome struct {
	ExitCode    int
	Compliant   bool
	ReportPaths []string
}

// Err maps a non-compliant outcome to the partial evaluation sentinel so
// aggregating callers can treat it uniformly with real failures.
func (o *ExitOutcome) Err() error {
	if o.Compliant {
		return nil
	}
	return scap.ErrPartialEvaluation
}

// Profile is one XCCDF profile a datastream offers.
type Profile struct {
	ID    string
	Title string
}

// Scanner invokes oscap through an injected exec implementation. The zero
// Log is silent.
type Scanner struct {
	Exec utilexec.Interface
	Log  zerolog.Logger
	// FetchRemoteResources lets oscap download OVAL content the
	// datastream references by URL. Off by default for offline hosts.
	FetchRemoteResources bool
}

// New returns a Scanner running commands through execer.
func New(execer utilexec.Interface) *Scanner {
	return &Scanner{Exec: execer}
}

func (s *Scanner) lookPath() error {
	if _, err := s.Exec.LookPath(binary); err != nil {
		return fmt.Errorf("%s: %w", binary, scap.ErrToolMissing)
	}
	return nil
}

// Version reports the installed oscap version.
func (s *Scanner) Version(ctx context.Context) (semver.Version, error) {
	var zero semver.Version
	if err := s.lookPath(); err != nil {
		return zero, err
	}
	out, err := s.Exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		return zero, fmt.Errorf("oscap --version: %v", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return zero, fmt.Errorf("unexpected oscap version output %q", line)
	}
	v, err := semver.ParseTolerant(fields[len(fields)-1])
	if err != nil {
		return zero, fmt.Errorf("parse oscap version %q: %v", fields[len(fields)-1], err)
	}
	return v, nil
}

// Profiles lists the XCCDF profiles a datastream offers.
func (s *Scanner) Profiles(ctx context.Context, datastream string) ([]Profile, error) {
	if err := s.lookPath(); err != nil {
		return nil, err
	}
	out, err := s.Exec.CommandContext(ctx, binary, "info", "--profiles", datastream).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("listing profiles of %s: %v: %s", datastream, err, tail(out, 3))
	}
	return parseProfiles(out), nil
}

func parseProfiles(out []byte) []Profile {
	var profiles []Profile
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		id, title, found := strings.Cut(line, ":")
		if !found || !strings.HasPrefix(id, "xccdf_") {
			continue
		}
		profiles = append(profiles, Profile{ID: id, Title: strings.TrimSpace(title)})
	}
	return profiles
}

// Run evaluates a datastream profile against the local host, remediating
// when asked. oscap exit code 2 means rules failed; the reports exist and
// the outcome carries Compliant=false. Any other non-zero exit is an error.
func (s *Scanner) Run(ctx context.Context, datastream, profile string, mode Mode, reports ReportTargets) (*ExitOutcome, error) {
	if mode != ModeEvaluate && mode != ModeRemediate {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if err := s.lookPath(); err != nil {
		return nil, err
	}

	args := []string{"xccdf", "eval", "--profile", profile}
	if reports.HTML != "" {
		args = append(args, "--report", reports.HTML)
	}
	if reports.XML != "" {
		args = append(args, "--results", reports.XML)
	}
	if mode == ModeRemediate {
		args = append(args, "--remediate")
	}
	if s.FetchRemoteResources {
		args = append(args, "--fetch-remote-resources")
	}
	args = append(args, datastream)

	s.Log.Debug().Str("binary", binary).Strs("args", args).Msg("invoking scanner")
	out, err := s.Exec.CommandContext(ctx, binary, args...).CombinedOutput()
	code := 0
	if err != nil {
		ee, ok := err.(utilexec.ExitError)
		if !ok {
			return nil, fmt.Errorf("running oscap: %v", err)
		}
		code = ee.ExitStatus()
	}

	switch code {
	case 0:
		return &ExitOutcome{ExitCode: code, Compliant: true, ReportPaths: reports.paths()}, nil
	case 2:
		s.Log.Warn().Str("profile", profile).Msg("evaluation finished with failed rules")
		return &ExitOutcome{ExitCode: code, Compliant: false, ReportPaths: reports.paths()}, nil
	default:
		return nil, fmt.Errorf("oscap exited %d: %s", code, tail(out, 5))
	}
}

// tail returns the last n non-empty output lines, joined for error text.
func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, " | ")
}
