package remote

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const testPassword = "hunter2"

// testServer is a minimal in-process sshd: password or any-key auth,
// exec and PTY shell sessions, an in-memory filesystem behind cat
// redirection, and a pretend oscap behind "bash".
type testServer struct {
	listener net.Listener

	mu          sync.Mutex
	cmds        []string
	files       map[string][]byte
	oscapExit   int
	missingTool bool
	sudoOK      bool
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{listener: ln, files: map[string][]byte{}, sudoOK: true}
	go s.serve(cfg)
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testServer) client() *Client {
	host, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &Client{User: "root", Host: host, Port: port, Password: testPassword}
}

func (s *testServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

func (s *testServer) file(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path]
	return b, ok
}

func (s *testServer) leftoverWorkdirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var left []string
	for p := range s.files {
		if strings.HasPrefix(p, "/var/tmp/stigctl-") {
			left = append(left, p)
		}
	}
	return left
}

func (s *testServer) serve(cfg *ssh.ServerConfig) {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nc, cfg)
	}
}

func (s *testServer) handleConn(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)
	for ch := range chans {
		if ch.ChannelType() != "session" {
			ch.Reject(ssh.UnknownChannelType, "only sessions here")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		go s.session(channel, requests)
	}
}

func (s *testServer) session(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "exec":
			var p struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.exec(ch, p.Command)
			return
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go ssh.DiscardRequests(reqs)
			s.shell(ch)
			return
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *testServer) exec(ch ssh.Channel, cmd string) {
	defer ch.Close()
	var stdin []byte
	if strings.HasPrefix(cmd, "cat > ") {
		stdin, _ = io.ReadAll(ch)
	}
	status := s.eval(cmd, stdin, ch)
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

func (s *testServer) eval(cmd string, stdin []byte, stdout io.Writer) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	switch {
	case cmd == "true":
		return 0
	case strings.HasPrefix(cmd, "mkdir "):
		return 0
	case strings.HasPrefix(cmd, "cat > "):
		spec := strings.TrimPrefix(cmd, "cat > ")
		path, _, _ := strings.Cut(spec, " && ")
		s.files[path] = stdin
		return 0
	case strings.HasPrefix(cmd, "cat "):
		b, ok := s.files[strings.TrimPrefix(cmd, "cat ")]
		if !ok {
			return 1
		}
		stdout.Write(b)
		return 0
	case strings.HasPrefix(cmd, "bash "):
		script, ok := s.files[strings.TrimPrefix(cmd, "bash ")]
		if !ok {
			return 127
		}
		io.WriteString(stdout, s.runHelper(string(script)))
		return 0
	case strings.HasPrefix(cmd, "rm -rf "):
		prefix := strings.TrimPrefix(cmd, "rm -rf ")
		for p := range s.files {
			if strings.HasPrefix(p, prefix) {
				delete(s.files, p)
			}
		}
		return 0
	}
	return 127
}

var scriptVarRE = regexp.MustCompile(`(?m)^(HTML|XML)='([^']*)'$`)

// runHelper pretends to execute the pushed helper script: it plants
// report artifacts at the paths the script names and prints the marker
// lines an evaluation would. Callers hold s.mu.
func (s *testServer) runHelper(script string) string {
	if s.missingTool {
		return "STIGCTL-BEGIN\nSTIGCTL-MISSING=oscap\nSTIGCTL-END\n"
	}
	paths := map[string]string{}
	for _, m := range scriptVarRE.FindAllStringSubmatch(script, -1) {
		paths[m[1]] = m[2]
	}
	s.files[paths["HTML"]] = []byte("<html>report</html>")
	s.files[paths["XML"]] = []byte("<TestResult/>")
	return fmt.Sprintf("STIGCTL-BEGIN\nSTIGCTL-EXIT=%d\nSTIGCTL-REPORT=%s\nSTIGCTL-RESULTS=%s\nSTIGCTL-END\n",
		s.oscapExit, paths["HTML"], paths["XML"])
}

// shell emulates the sudo PTY exchange RunSudo drives: prompt, read the
// password, then run the wrapped command and print the done marker.
func (s *testServer) shell(ch ssh.Channel) {
	defer ch.Close()
	br := bufio.NewReader(ch)
	line, err := br.ReadString('\n')
	if err != nil {
		return
	}
	if !strings.Contains(line, "sudo -S") {
		io.WriteString(ch, "shell only supports sudo here\n")
		ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{127}))
		return
	}
	io.WriteString(ch, "stigctl-sudo:")
	pw, err := br.ReadString('\n')
	if err != nil {
		return
	}
	s.mu.Lock()
	ok := s.sudoOK && strings.TrimSpace(pw) == testPassword
	s.mu.Unlock()
	if !ok {
		io.WriteString(ch, "Sorry, try again.\nstigctl-sudo:")
		br.ReadString('\n')
		return
	}

	cmd := line
	if i := strings.Index(cmd, "' "); i >= 0 {
		cmd = cmd[i+2:]
	}
	if j := strings.Index(cmd, ";"); j >= 0 {
		cmd = cmd[:j]
	}
	var buf strings.Builder
	s.eval(strings.TrimSpace(cmd), nil, &buf)
	io.WriteString(ch, buf.String())
	io.WriteString(ch, "STIGCTL-SUDO-DONE\n")
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
}
