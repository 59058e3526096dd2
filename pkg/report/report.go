// Package report decides where evaluation artifacts land and writes the
// machine-readable summary of each invocation.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// DefaultDir is where reports accumulate unless the caller points
// elsewhere.
const DefaultDir = "/var/lib/stigctl/reports"

const stampLayout = "20060102-150405"

// Sink names and writes report artifacts under one directory.
type Sink struct {
	Dir string
	Log zerolog.Logger

	now func() time.Time
}

// NewSink returns a sink rooted at dir, DefaultDir when empty.
func NewSink(dir string) *Sink {
	if dir == "" {
		dir = DefaultDir
	}
	return &Sink{Dir: dir}
}

func (s *Sink) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Ensure creates the report directory.
func (s *Sink) Ensure() error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("creating report dir %s: %v", s.Dir, err)
	}
	return nil
}

// HTMLPath is the timestamped default location for a host's HTML report.
func (s *Sink) HTMLPath(host string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s.html", host, s.clock().Format(stampLayout)))
}

// XMLPath is the timestamped default location for a host's ARF results.
func (s *Sink) XMLPath(host string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s-results.xml", host, s.clock().Format(stampLayout)))
}

// HostSummary is one host's slice of a run summary.
type HostSummary struct {
	Host      string
	ExitCode  int
	Compliant bool
	HTML      string
	XML       string
	Error     string
}

// RunSummary describes one invocation across all its hosts.
type RunSummary struct {
	Verb       string
	Profile    string
	Datastream string
	Strategy   string
	Fidelity   string
	StartedAt  time.Time
	Hosts      []HostSummary
}

// WriteSummary writes the summary as pretty-printed JSON next to the
// reports and returns its path.
func (s *Sink) WriteSummary(sum RunSummary) (string, error) {
	if sum.StartedAt.IsZero() {
		sum.StartedAt = s.clock()
	}
	out := "{}"
	out, _ = sjson.Set(out, "verb", sum.Verb)
	out, _ = sjson.Set(out, "started_at", sum.StartedAt.UTC().Format(time.RFC3339))
	if sum.Profile != "" {
		out, _ = sjson.Set(out, "profile", sum.Profile)
	}
	if sum.Datastream != "" {
		out, _ = sjson.Set(out, "datastream", sum.Datastream)
		out, _ = sjson.Set(out, "strategy", sum.Strategy)
		out, _ = sjson.Set(out, "fidelity", sum.Fidelity)
	}
	out, _ = sjson.Set(out, "hosts", []interface{}{})
	for _, h := range sum.Hosts {
		item := "{}"
		item, _ = sjson.Set(item, "host", h.Host)
		item, _ = sjson.Set(item, "exit_code", h.ExitCode)
		item, _ = sjson.Set(item, "compliant", h.Compliant)
		if h.HTML != "" {
			item, _ = sjson.Set(item, "html", h.HTML)
		}
		if h.XML != "" {
			item, _ = sjson.Set(item, "xml", h.XML)
		}
		if h.Error != "" {
			item, _ = sjson.Set(item, "error", h.Error)
		}
		out, _ = sjson.SetRaw(out, "hosts.-1", item)
	}

	path := filepath.Join(s.Dir, fmt.Sprintf("summary-%s.json", s.clock().Format(stampLayout)))
	if err := os.WriteFile(path, pretty.Pretty([]byte(out)), 0o644); err != nil {
		return "", fmt.Errorf("writing summary %s: %v", path, err)
	}
	s.Log.Debug().Str("path", path).Int("hosts", len(sum.Hosts)).Msg("run summary written")
	return path, nil
}
