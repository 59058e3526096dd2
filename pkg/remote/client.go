// Package remote runs compliance evaluations over SSH: push a helper
// script and an adapted datastream to the target, execute, read the
// marker lines back and collect the report artifacts.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

const defaultPort = 22

// Client is one SSH target. PrivateKey is a path to a PEM key file;
// Password is used when no key is given, and doubles as the sudo
// password for privileged evaluation.
type Client struct {
	User       string
	Host       string
	Port       int
	PrivateKey string
	Password   string

	// DialTimeout bounds the TCP connect, zero means 10s.
	DialTimeout time.Duration
	// CommandTimeout bounds interactive expect waits, zero means 5m.
	CommandTimeout time.Duration

	Log zerolog.Logger
}

func (c *Client) addr() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c *Client) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 10 * time.Second
}

func (c *Client) commandTimeout() time.Duration {
	if c.CommandTimeout > 0 {
		return c.CommandTimeout
	}
	return 5 * time.Minute
}

func (c *Client) config() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.PrivateKey != "" {
		pemBytes, err := os.ReadFile(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("reading key %s: %v", c.PrivateKey, err)
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing key %s: %v", c.PrivateKey, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh auth configured for %s", c.addr())
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.dialTimeout(),
	}, nil
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	config, err := c.config()
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: c.dialTimeout()}
	nc, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return nil, err
	}
	conn, chans, reqs, err := ssh.NewClientConn(nc, c.addr(), config)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

// Ping dials and authenticates, nothing more. A failure wraps
// ErrConnectivity so callers can tell an unreachable host from a broken
// evaluation.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", c.addr(), err, scap.ErrConnectivity)
	}
	conn.Close()
	return nil
}

// WaitReady polls Ping until the host answers or the timeout expires,
// for targets that are still booting.
func (c *Client) WaitReady(ctx context.Context, interval, timeout time.Duration) error {
	err := wait.PollImmediate(interval, timeout, func() (bool, error) {
		if err := c.Ping(ctx); err != nil {
			c.Log.Debug().Err(err).Str("host", c.addr()).Msg("host not ready yet")
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%s never became reachable: %w", c.addr(), scap.ErrConnectivity)
	}
	return nil
}

// RunOutput runs cmd on the remote host and returns the combined stdout
// and stderr. A non-zero remote exit comes back as an *ssh.ExitError
// alongside whatever output was produced.
func (c *Client) RunOutput(ctx context.Context, cmd string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %v: %w", c.addr(), err, scap.ErrConnectivity)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return "", fmt.Errorf("session on %s: %v", c.addr(), err)
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf
	err = session.Run(cmd)
	c.Log.Debug().Str("host", c.addr()).Str("cmd", cmd).Msg("remote command finished")
	return buf.String(), err
}

// Run runs cmd and logs the output when it fails.
func (c *Client) Run(ctx context.Context, cmd string) error {
	out, err := c.RunOutput(ctx, cmd)
	if err != nil {
		c.Log.Debug().Str("host", c.addr()).Str("cmd", cmd).Str("output", out).
			Msg("remote command failed")
		return fmt.Errorf("running %q on %s: %v", cmd, c.addr(), err)
	}
	return nil
}

// Push writes data to remotePath with the given mode, over a plain exec
// channel with cat redirection. No sftp subsystem required on the target.
func (c *Client) Push(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", c.addr(), err, scap.ErrConnectivity)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("session on %s: %v", c.addr(), err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)
	cmd := fmt.Sprintf("cat > %s && chmod %o %s", remotePath, mode.Perm(), remotePath)
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("pushing %s to %s: %v", remotePath, c.addr(), err)
	}
	return nil
}

// Fetch reads a remote file. Only stdout is captured so stderr noise
// cannot corrupt the artifact.
func (c *Client) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", c.addr(), err, scap.ErrConnectivity)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("session on %s: %v", c.addr(), err)
	}
	defer session.Close()

	out, err := session.Output("cat " + remotePath)
	if err != nil {
		return nil, fmt.Errorf("fetching %s from %s: %v", remotePath, c.addr(), err)
	}
	return out, nil
}
