package scap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOSRelease(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    OSIdentity
		wantErr bool
	}{
		{
			name: "centos stream 10",
			content: `NAME="CentOS Stream"
VERSION="10 (Coughlan)"
ID="centos"
ID_LIKE="rhel fedora"
VERSION_ID="10"
PRETTY_NAME="CentOS Stream 10 (Coughlan)"`,
			want: CentOS10,
		},
		{
			name: "rhel with minor version",
			content: `NAME="Red Hat Enterprise Linux"
ID="rhel"
VERSION_ID="9.4"`,
			want: RHEL9,
		},
		{
			name: "rebuild resolves through ID_LIKE",
			content: `NAME="Rocky Linux"
ID="rocky"
ID_LIKE="rhel centos fedora"
VERSION_ID="9.3"`,
			want: RHEL9,
		},
		{
			name: "unquoted values",
			content: `ID=centos
VERSION_ID=10`,
			want: CentOS10,
		},
		{
			name: "unrelated distribution",
			content: `ID=debian
VERSION_ID="12"`,
			wantErr: true,
		},
		{
			name: "missing version",
			content: `ID=rhel
VERSION_ID=""`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseOSRelease([]byte(tc.content))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseShort(t *testing.T) {
	for in, want := range map[string]OSIdentity{
		"centos10": CentOS10,
		"rhel9":    RHEL9,
		"RHEL-10":  RHEL10,
		"cs10":     CentOS10,
		" rhel10 ": RHEL10,
	} {
		got, err := ParseShort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "10", "rhel", "r h e l 9"} {
		_, err := ParseShort(in)
		assert.Error(t, err, in)
	}
}

func TestIdentityMarkers(t *testing.T) {
	assert.Equal(t, "rhel9", RHEL9.Short())
	assert.Equal(t, "RHEL-9", RHEL9.Abbrev())
	assert.Equal(t, "Red Hat Enterprise Linux 9", RHEL9.Product())
	assert.Equal(t, "cpe:/o:redhat:enterprise_linux:9", RHEL9.CPE())

	assert.Equal(t, "centos10", CentOS10.Short())
	assert.Equal(t, "CS-10", CentOS10.Abbrev())
	assert.Equal(t, "CentOS Stream 10", CentOS10.Product())
	assert.Equal(t, "cpe:/o:centos:centos:10", CentOS10.CPE())
}

func TestMarkerPairsOrdering(t *testing.T) {
	pairs := MarkerPairs(RHEL9, CentOS10)
	require.Len(t, pairs, 5)
	assert.Equal(t, RHEL9.CPE(), pairs[0].From)
	for i := 1; i < len(pairs); i++ {
		assert.GreaterOrEqual(t, len(pairs[i-1].From), len(pairs[i].From),
			"pair %d must not be longer than pair %d", i, i-1)
	}
}

func TestMarkerPairsDropsSharedMarkers(t *testing.T) {
	pairs := MarkerPairs(RHEL10, RHEL9)
	require.Len(t, pairs, 4)
	for _, p := range pairs {
		assert.NotEqual(t, p.From, p.To)
	}
}

func TestFallbacksFor(t *testing.T) {
	assert.Equal(t, []OSIdentity{RHEL10, RHEL9}, FallbacksFor(CentOS10))
	assert.Equal(t, []OSIdentity{RHEL9}, FallbacksFor(RHEL10))
	assert.Empty(t, FallbacksFor(RHEL9))
}
