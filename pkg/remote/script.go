package remote

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

// Marker lines the helper script prints on stdout. Everything else the
// remote side says is noise and ignored.
const (
	markerBegin   = "STIGCTL-BEGIN"
	markerEnd     = "STIGCTL-END"
	markerExit    = "STIGCTL-EXIT="
	markerReport  = "STIGCTL-REPORT="
	markerResults = "STIGCTL-RESULTS="
	markerMissing = "STIGCTL-MISSING="
)

// helperScript renders the self-contained evaluation script. The script
// always exits 0; the oscap verdict travels in the EXIT marker so a
// non-zero ssh exit means plumbing broke, not that rules failed.
func helperScript(datastream, profile, htmlPath, xmlPath string) string {
	return fmt.Sprintf(`#!/bin/bash
set -u
DS='%s'
PROFILE='%s'
HTML='%s'
XML='%s'
echo %s
if ! command -v oscap >/dev/null 2>&1; then
    echo %soscap
    echo %s
    exit 0
fi
oscap xccdf eval --profile "$PROFILE" --report "$HTML" --results "$XML" "$DS" >/dev/null 2>&1
rc=$?
echo %s$rc
echo %s$HTML
echo %s$XML
echo %s
`, datastream, profile, htmlPath, xmlPath,
		markerBegin, markerMissing, markerEnd,
		markerExit, markerReport, markerResults, markerEnd)
}

// runReport is what the marker lines decode to.
type runReport struct {
	ExitCode    int
	ReportPath  string
	ResultsPath string
}

// parseRunOutput extracts the marker lines from helper output. Output
// without both BEGIN and END markers means the script never ran to
// completion and nothing in it can be trusted.
func parseRunOutput(out string) (runReport, error) {
	var rep runReport
	var begun, ended bool
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == markerBegin:
			begun = true
		case line == markerEnd:
			ended = true
		case strings.HasPrefix(line, markerMissing):
			tool := strings.TrimPrefix(line, markerMissing)
			return rep, fmt.Errorf("remote host: %s: %w", tool, scap.ErrToolMissing)
		case strings.HasPrefix(line, markerExit):
			n, err := strconv.Atoi(strings.TrimPrefix(line, markerExit))
			if err != nil {
				return rep, fmt.Errorf("bad exit marker %q: %v", line, err)
			}
			rep.ExitCode = n
		case strings.HasPrefix(line, markerReport):
			rep.ReportPath = strings.TrimPrefix(line, markerReport)
		case strings.HasPrefix(line, markerResults):
			rep.ResultsPath = strings.TrimPrefix(line, markerResults)
		}
	}
	if !begun || !ended {
		return rep, fmt.Errorf("helper output incomplete, begin=%v end=%v", begun, ended)
	}
	return rep, nil
}
