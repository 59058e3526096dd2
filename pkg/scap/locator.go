package scap

import (
	"fmt"
	"path/filepath"
)

// DefaultContentDir is where the scap-security-guide package installs its
// datastreams.
const DefaultContentDir = "/usr/share/xml/scap/ssg/content"

// Locator carries the directories a resolution works against. Callers pass
// it explicitly; nothing in this package reads paths from globals.
type Locator struct {
	// ContentDir holds the ssg-*-ds.xml datastreams.
	ContentDir string
	// ScratchDir receives temp files for staged writes and remote helpers.
	ScratchDir string
}

// DefaultLocator returns a Locator pointing at the system SSG content
// directory.
func DefaultLocator() Locator {
	return Locator{
		ContentDir: DefaultContentDir,
		ScratchDir: "/var/tmp",
	}
}

// DatastreamPath is the canonical datastream location for an identity. An
// adaptation writes its result here.
func (l Locator) DatastreamPath(id OSIdentity) string {
	return filepath.Join(l.ContentDir, fmt.Sprintf("ssg-%s-ds.xml", id.Short()))
}

// Candidates lists the paths that may already hold usable content for an
// identity, highest priority first. CentOS content has shipped under both
// the centosN and csN names, so both are probed.
func (l Locator) Candidates(id OSIdentity) []Candidate {
	out := []Candidate{{Path: l.DatastreamPath(id), Priority: 100}}
	if id.Family == "centos" {
		out = append(out, Candidate{
			Path:     filepath.Join(l.ContentDir, fmt.Sprintf("ssg-cs%d-ds.xml", id.Major)),
			Priority: 90,
		})
	}
	return out
}
