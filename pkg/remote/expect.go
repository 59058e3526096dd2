package remote

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	expect "github.com/google/goexpect"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

const sudoPrompt = "stigctl-sudo:"

var (
	sudoPromptRE = regexp.MustCompile(regexp.QuoteMeta(sudoPrompt))
	sudoDoneRE   = regexp.MustCompile("STIGCTL-SUDO-DONE")
	sudoEitherRE = regexp.MustCompile(regexp.QuoteMeta(sudoPrompt) + "|STIGCTL-SUDO-DONE")
)

// RunSudo runs cmd under sudo on a PTY, answering the password prompt
// with Client.Password. The sent line splits its own marker strings with
// empty shell quotes so a server that echoes input cannot satisfy the
// expectation early.
func (c *Client) RunSudo(ctx context.Context, cmd string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", c.addr(), err, scap.ErrConnectivity)
	}
	defer conn.Close()

	e, _, err := expect.SpawnSSH(conn, c.commandTimeout())
	if err != nil {
		return "", fmt.Errorf("pty on %s: %v", c.addr(), err)
	}
	defer e.Close()

	var out strings.Builder
	line := fmt.Sprintf("sudo -S -p 'stigctl-''sudo:' %s; echo STIGCTL-SUDO-''DONE; exit\n", cmd)
	if err := e.Send(line); err != nil {
		return "", fmt.Errorf("sending command to %s: %v", c.addr(), err)
	}

	res, _, err := e.Expect(sudoEitherRE, c.commandTimeout())
	out.WriteString(res)
	if err != nil {
		return out.String(), fmt.Errorf("waiting for sudo on %s: %v", c.addr(), err)
	}
	if sudoPromptRE.MatchString(res) {
		if c.Password == "" {
			return out.String(), fmt.Errorf("sudo on %s wants a password and none is configured", c.addr())
		}
		if err := e.Send(c.Password + "\n"); err != nil {
			return out.String(), fmt.Errorf("sending password to %s: %v", c.addr(), err)
		}
		res, _, err = e.Expect(sudoEitherRE, c.commandTimeout())
		out.WriteString(res)
		if err != nil {
			return out.String(), fmt.Errorf("waiting for completion on %s: %v", c.addr(), err)
		}
		if sudoPromptRE.MatchString(res) && !sudoDoneRE.MatchString(res) {
			return out.String(), fmt.Errorf("sudo on %s rejected the password", c.addr())
		}
	}
	return out.String(), nil
}
