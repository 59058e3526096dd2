package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

func fakePackageManager(missing map[string]bool, outputs ...fakeexec.FakeAction) (*PackageManager, *fakeexec.FakeCmd) {
	fcmd := &fakeexec.FakeCmd{}
	fake := &fakeexec.FakeExec{
		LookPathFunc: func(cmd string) (string, error) {
			if missing[cmd] {
				return "", fmt.Errorf("exec: %q: executable file not found in $PATH", cmd)
			}
			return "/usr/bin/" + cmd, nil
		},
	}
	for _, out := range outputs {
		fcmd.CombinedOutputScript = append(fcmd.CombinedOutputScript, out)
		fake.CommandScript = append(fake.CommandScript, func(cmd string, args ...string) exec.Cmd {
			return fakeexec.InitFakeCmd(fcmd, cmd, args...)
		})
	}
	return &PackageManager{Exec: fake}, fcmd
}

func TestInstallRetriesOnce(t *testing.T) {
	pm, fcmd := fakePackageManager(nil,
		func() ([]byte, []byte, error) {
			return []byte("Curl error (28): Timeout"), nil, fakeexec.FakeExitError{Status: 1}
		},
		func() ([]byte, []byte, error) { return []byte("Complete!"), nil, nil },
	)

	err := pm.Install(context.Background(), PkgGuide, PkgAnsible)
	require.NoError(t, err)
	require.Equal(t, 2, fcmd.CombinedOutputCalls)

	want := []string{"dnf", "install", "-y", PkgGuide, PkgAnsible}
	assert.Equal(t, want, fcmd.CombinedOutputLog[0])
	assert.Equal(t, want, fcmd.CombinedOutputLog[1])
}

func TestInstallGivesUpAfterSecondFailure(t *testing.T) {
	fail := func() ([]byte, []byte, error) {
		return []byte("Error: Unable to find a match: scap-security-guide"), nil, fakeexec.FakeExitError{Status: 1}
	}
	pm, fcmd := fakePackageManager(nil, fail, fail)

	err := pm.Install(context.Background(), PkgGuide)
	require.Error(t, err)
	assert.Equal(t, 2, fcmd.CombinedOutputCalls)
	assert.Contains(t, err.Error(), "dnf install scap-security-guide")
	assert.Contains(t, err.Error(), "Unable to find a match")
}

func TestInstallFallsBackToYum(t *testing.T) {
	pm, fcmd := fakePackageManager(map[string]bool{"dnf": true},
		func() ([]byte, []byte, error) { return []byte("Complete!"), nil, nil },
	)

	require.NoError(t, pm.Install(context.Background(), PkgScanner))
	assert.Equal(t, []string{"yum", "install", "-y", PkgScanner}, fcmd.CombinedOutputLog[0])
}

func TestInstallWithoutPackageManager(t *testing.T) {
	pm, fcmd := fakePackageManager(map[string]bool{"dnf": true, "yum": true})

	err := pm.Install(context.Background(), PkgScanner)
	require.Error(t, err)
	assert.True(t, errors.Is(err, scap.ErrToolMissing))
	assert.Zero(t, fcmd.CombinedOutputCalls)
}

func TestInstalled(t *testing.T) {
	pm, fcmd := fakePackageManager(nil,
		func() ([]byte, []byte, error) { return []byte("openscap-scanner-1.3.10-2.el10.x86_64"), nil, nil },
		func() ([]byte, []byte, error) {
			return []byte("package ansible-core is not installed"), nil, fakeexec.FakeExitError{Status: 1}
		},
	)

	assert.True(t, pm.Installed(context.Background(), PkgScanner))
	assert.False(t, pm.Installed(context.Background(), PkgAnsible))
	assert.Equal(t, []string{"rpm", "-q", PkgScanner}, fcmd.CombinedOutputLog[0])
}
