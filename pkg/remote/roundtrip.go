package remote

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

// remoteScratch is where helper material lands on the target. var/tmp
// survives reboots mid-evaluation where /tmp may not.
const remoteScratch = "/var/tmp"

// Evaluation describes one remote compliance run. Datastream is a local
// path, usually the adapter's output; it is pushed to the target so only
// openscap-scanner needs to be installed there.
type Evaluation struct {
	Datastream string
	Profile    string
	// LocalHTML and LocalXML are where fetched artifacts are written.
	// Empty skips the artifact.
	LocalHTML string
	LocalXML  string
	// Sudo runs the helper under sudo, feeding Client.Password at the
	// prompt through a PTY.
	Sudo bool
}

// Outcome is the verdict of one remote evaluation.
type Outcome struct {
	Host      string
	ExitCode  int
	Compliant bool
	HTMLPath  string
	XMLPath   string
}

// Err mirrors the local scanner: rule failures are reportable, not nil,
// so fleet aggregation can count them with errors.Is.
func (o Outcome) Err() error {
	if o.Compliant {
		return nil
	}
	return fmt.Errorf("%s: rules failed: %w", o.Host, scap.ErrPartialEvaluation)
}

// Evaluate performs the full round trip: connectivity check, push the
// datastream and helper script into a uuid-named work directory, run it,
// parse the markers, fetch the artifacts and tear the directory down.
func (c *Client) Evaluate(ctx context.Context, ev Evaluation) (Outcome, error) {
	out := Outcome{Host: c.Host}
	if err := c.Ping(ctx); err != nil {
		return out, err
	}

	workdir := path.Join(remoteScratch, "stigctl-"+uuid.NewString())
	if err := c.Run(ctx, "mkdir -m 0700 "+workdir); err != nil {
		return out, err
	}
	defer func() {
		if err := c.Run(ctx, "rm -rf "+workdir); err != nil {
			c.Log.Warn().Err(err).Str("host", c.addr()).Str("dir", workdir).
				Msg("could not clean up remote work directory")
		}
	}()

	data, err := os.ReadFile(ev.Datastream)
	if err != nil {
		return out, fmt.Errorf("reading datastream: %v", err)
	}
	remoteDS := path.Join(workdir, "ds.xml")
	if err := c.Push(ctx, remoteDS, data, 0o644); err != nil {
		return out, err
	}

	script := helperScript(remoteDS, ev.Profile,
		path.Join(workdir, "report.html"), path.Join(workdir, "results.xml"))
	remoteScript := path.Join(workdir, "run.sh")
	if err := c.Push(ctx, remoteScript, []byte(script), 0o755); err != nil {
		return out, err
	}

	var raw string
	if ev.Sudo {
		raw, err = c.RunSudo(ctx, "bash "+remoteScript)
	} else {
		raw, err = c.RunOutput(ctx, "bash "+remoteScript)
	}
	if err != nil {
		return out, fmt.Errorf("running helper on %s: %v", c.addr(), err)
	}
	rep, err := parseRunOutput(raw)
	if err != nil {
		return out, err
	}

	switch rep.ExitCode {
	case 0:
		out.Compliant = true
	case 2:
		c.Log.Warn().Str("host", c.addr()).Msg("remote evaluation found failed rules")
	default:
		return out, fmt.Errorf("remote oscap exited %d on %s", rep.ExitCode, c.addr())
	}
	out.ExitCode = rep.ExitCode

	if ev.LocalHTML != "" && rep.ReportPath != "" {
		if err := c.fetchTo(ctx, rep.ReportPath, ev.LocalHTML); err != nil {
			return out, err
		}
		out.HTMLPath = ev.LocalHTML
	}
	if ev.LocalXML != "" && rep.ResultsPath != "" {
		if err := c.fetchTo(ctx, rep.ResultsPath, ev.LocalXML); err != nil {
			return out, err
		}
		out.XMLPath = ev.LocalXML
	}
	c.Log.Info().Str("host", c.addr()).Int("exit", out.ExitCode).
		Bool("compliant", out.Compliant).Msg("remote evaluation finished")
	return out, nil
}

func (c *Client) fetchTo(ctx context.Context, remotePath, localPath string) error {
	data, err := c.Fetch(ctx, remotePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %v", localPath, err)
	}
	return nil
}
