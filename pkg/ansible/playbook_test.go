package ansible

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

func fakePlaybook(outputs ...fakeexec.FakeAction) (*Playbook, *fakeexec.FakeCmd) {
	fcmd := &fakeexec.FakeCmd{CombinedOutputScript: outputs}
	fe := &fakeexec.FakeExec{}
	for range outputs {
		fe.CommandScript = append(fe.CommandScript, func(cmd string, args ...string) utilexec.Cmd {
			return fakeexec.InitFakeCmd(fcmd, cmd, args...)
		})
	}
	return &Playbook{Exec: fe, Playbook: "site.yml", Inventory: "hosts.ini"}, fcmd
}

func TestPlaybookRunArgs(t *testing.T) {
	p, fcmd := fakePlaybook(func() ([]byte, []byte, error) { return []byte("PLAY RECAP"), nil, nil })

	code, err := p.Run(context.Background(), RunOptions{
		Tags:           []string{"cat1", "cat2"},
		Limit:          "web1",
		Check:          true,
		ExtraVarsFiles: []string{"toggles.yml"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{
		"ansible-playbook",
		"-i", "hosts.ini",
		"--tags", "cat1,cat2",
		"--limit", "web1",
		"--check",
		"-e", "@toggles.yml",
		"site.yml",
	}, fcmd.CombinedOutputLog[0])
}

func TestPlaybookRunMinimalArgs(t *testing.T) {
	p, fcmd := fakePlaybook(func() ([]byte, []byte, error) { return nil, nil, nil })

	_, err := p.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ansible-playbook", "-i", "hosts.ini", "site.yml"},
		fcmd.CombinedOutputLog[0])
}

func TestPlaybookUnreachableHosts(t *testing.T) {
	p, _ := fakePlaybook(func() ([]byte, []byte, error) {
		return []byte("web1 : UNREACHABLE"), nil, fakeexec.FakeExitError{Status: 4}
	})

	code, err := p.Run(context.Background(), RunOptions{})
	assert.Equal(t, 4, code)
	assert.ErrorIs(t, err, scap.ErrConnectivity)
}

func TestPlaybookFailedTasks(t *testing.T) {
	p, _ := fakePlaybook(func() ([]byte, []byte, error) {
		return []byte("web1 : failed=3"), nil, fakeexec.FakeExitError{Status: 2}
	})

	code, err := p.Run(context.Background(), RunOptions{})
	assert.Equal(t, 2, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 2")
	assert.Contains(t, err.Error(), "failed=3")
}

func TestPlaybookToolMissing(t *testing.T) {
	fe := &fakeexec.FakeExec{LookPathFunc: func(string) (string, error) {
		return "", errors.New("not found")
	}}
	p := &Playbook{Exec: fe, Playbook: "site.yml"}

	_, err := p.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, scap.ErrToolMissing)
}
