package scap

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// OSIdentity names an operating system for datastream lookup and
// substitution. It is a value type and safe to copy.
type OSIdentity struct {
	Family string // normalized distribution family, "rhel" or "centos"
	Major  int
}

var (
	CentOS10 = OSIdentity{Family: "centos", Major: 10}
	CentOS9  = OSIdentity{Family: "centos", Major: 9}
	RHEL10   = OSIdentity{Family: "rhel", Major: 10}
	RHEL9    = OSIdentity{Family: "rhel", Major: 9}
)

func (id OSIdentity) String() string {
	return fmt.Sprintf("%s%d", id.Family, id.Major)
}

// Short is the form used in SCAP Security Guide file names, for example
// "rhel9" in ssg-rhel9-ds.xml.
func (id OSIdentity) Short() string {
	return id.String()
}

// Abbrev is the form used in XCCDF benchmark identifiers, for example
// "RHEL-9" in xccdf_org.ssgproject.content_benchmark_RHEL-9.
func (id OSIdentity) Abbrev() string {
	switch id.Family {
	case "centos":
		return fmt.Sprintf("CS-%d", id.Major)
	default:
		return fmt.Sprintf("%s-%d", strings.ToUpper(id.Family), id.Major)
	}
}

// Product is the versioned vendor product name as it appears in datastream
// titles and descriptions.
func (id OSIdentity) Product() string {
	return fmt.Sprintf("%s %d", id.ProductBase(), id.Major)
}

// ProductBase is the unversioned vendor product name.
func (id OSIdentity) ProductBase() string {
	switch id.Family {
	case "rhel":
		return "Red Hat Enterprise Linux"
	case "centos":
		return "CentOS Stream"
	default:
		return id.Family
	}
}

// CPE is the platform identifier used in datastream <cpe:platform> elements.
func (id OSIdentity) CPE() string {
	switch id.Family {
	case "rhel":
		return fmt.Sprintf("cpe:/o:redhat:enterprise_linux:%d", id.Major)
	case "centos":
		return fmt.Sprintf("cpe:/o:centos:centos:%d", id.Major)
	default:
		return fmt.Sprintf("cpe:/o:%s:%s:%d", id.Family, id.Family, id.Major)
	}
}

func (id OSIdentity) IsZero() bool {
	return id.Family == "" && id.Major == 0
}

// FallbacksFor returns the identities whose published content is close
// enough to stand in for id, best match first. CentOS Stream tracks the
// RHEL major it feeds, so the same-major RHEL stream comes first and the
// previous major after it.
func FallbacksFor(id OSIdentity) []OSIdentity {
	switch id {
	case CentOS10:
		return []OSIdentity{RHEL10, RHEL9}
	case CentOS9:
		return []OSIdentity{RHEL9}
	case RHEL10:
		return []OSIdentity{RHEL9}
	default:
		return nil
	}
}

var shortRE = regexp.MustCompile(`^([a-z]+)-?([0-9]+)$`)

// ParseShort parses the file-name form of an identity, for example
// "centos10" or "rhel9".
func ParseShort(s string) (OSIdentity, error) {
	m := shortRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return OSIdentity{}, fmt.Errorf("unrecognized OS identity %q", s)
	}
	major, err := strconv.Atoi(m[2])
	if err != nil {
		return OSIdentity{}, fmt.Errorf("unrecognized OS identity %q", s)
	}
	family := m[1]
	if family == "cs" {
		family = "centos"
	}
	return OSIdentity{Family: family, Major: major}, nil
}

// ParseOSRelease derives the host identity from os-release(5) content.
// Unknown ID values fall back to ID_LIKE so rebuilds such as Rocky or Alma
// resolve to the rhel family.
func ParseOSRelease(data []byte) (OSIdentity, error) {
	f, err := ini.Load(data)
	if err != nil {
		return OSIdentity{}, fmt.Errorf("parse os-release: %v", err)
	}
	sec := f.Section("")
	osID := strings.ToLower(sec.Key("ID").String())
	like := strings.Fields(strings.ToLower(sec.Key("ID_LIKE").String()))

	family := normalizeFamily(osID, like)
	if family == "" {
		return OSIdentity{}, fmt.Errorf("unsupported distribution %q (ID_LIKE=%q)", osID, sec.Key("ID_LIKE").String())
	}

	verID := sec.Key("VERSION_ID").String()
	majorStr := strings.SplitN(verID, ".", 2)[0]
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return OSIdentity{}, fmt.Errorf("unsupported VERSION_ID %q", verID)
	}
	return OSIdentity{Family: family, Major: major}, nil
}

func normalizeFamily(osID string, like []string) string {
	switch osID {
	case "centos":
		return "centos"
	case "rhel", "redhat":
		return "rhel"
	}
	for _, l := range like {
		switch l {
		case "rhel", "redhat":
			return "rhel"
		case "centos":
			return "centos"
		}
	}
	return ""
}

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// DetectHost identifies the local host from os-release.
func DetectHost() (OSIdentity, error) {
	var lastErr error
	for _, p := range osReleasePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		return ParseOSRelease(data)
	}
	return OSIdentity{}, fmt.Errorf("no readable os-release file: %v", lastErr)
}
