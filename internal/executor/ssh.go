package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures the SSH-backed RemoteExecutor.
type SSHConfig struct {
	User           string
	KeyPath        string
	KnownHostsPath string
	ConnectTimeout time.Duration
	Port           int // default: 22
}

// SSHExecutor implements RemoteExecutor by dialing one *ssh.Client per
// distinct host and multiplexing calls across sessions on that client.
// A run never outlives the process, so clients are cached for the
// lifetime of the SSHExecutor and never evicted.
type SSHExecutor struct {
	cfg        SSHConfig
	clientAuth []ssh.AuthMethod
	hostKeyCB  ssh.HostKeyCallback

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHExecutor builds an SSHExecutor from a private key and a
// known_hosts file. The private key is read once at construction time.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh private key: %w", err)
	}

	hostKeyCB, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	return &SSHExecutor{
		cfg:        cfg,
		clientAuth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		hostKeyCB:  hostKeyCB,
		clients:    make(map[string]*ssh.Client),
	}, nil
}

func (e *SSHExecutor) clientFor(host string) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[host]; ok {
		return c, nil
	}

	addr := host
	if !strings.Contains(host, ":") {
		addr = fmt.Sprintf("%s:%d", host, e.cfg.Port)
	}

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            e.clientAuth,
		HostKeyCallback: e.hostKeyCB,
		Timeout:         e.cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	e.clients[host] = client
	return client, nil
}

// Close closes every cached SSH connection.
func (e *SSHExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for host, c := range e.clients {
		_ = c.Close()
		delete(e.clients, host)
	}
}

// Run implements RemoteExecutor.
func (e *SSHExecutor) Run(ctx context.Context, host string, argv []string) (*Result, error) {
	client, err := e.clientFor(host)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session on %s: %w", host, err)
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := quoteArgv(argv)
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case runErr := <-done:
		return &Result{
			ExitCode: exitCodeOf(runErr),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}, nil
	}
}

// sshJobHandle is the concrete JobHandle for SSHExecutor.
type sshJobHandle struct {
	host    string
	session *ssh.Session
	pid     int
	stdout  *strings.Builder
	stderr  *strings.Builder
	done    chan error
}

func (h *sshJobHandle) Host() string { return h.host }

// StartJob implements RemoteExecutor. It wraps argv so the remote shell
// prints its own PID as a sentinel first line, letting KillJob send a
// plain `kill` even when the SSH transport's own signal delivery isn't
// honored by the remote sshd (a common restriction).
func (e *SSHExecutor) StartJob(ctx context.Context, host string, argv []string) (JobHandle, error) {
	client, err := e.clientFor(host)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session on %s: %w", host, err)
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("opening stdout pipe on %s: %w", host, err)
	}
	var stderr strings.Builder
	session.Stderr = &stderr

	cmd := fmt.Sprintf("echo $$; exec %s", quoteArgv(argv))
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("starting job on %s: %w", host, err)
	}

	reader := bufio.NewReader(stdoutPipe)
	line, err := reader.ReadString('\n')
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("reading pid sentinel from %s: %w", host, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("parsing pid sentinel %q from %s: %w", line, host, err)
	}

	var stdout strings.Builder
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdout.ReadFrom(reader)
		waitErr := session.Wait()
		if copyErr != nil && waitErr == nil {
			waitErr = copyErr
		}
		done <- waitErr
	}()

	return &sshJobHandle{
		host:    host,
		session: session,
		pid:     pid,
		stdout:  &stdout,
		stderr:  &stderr,
		done:    done,
	}, nil
}

// WaitJob implements RemoteExecutor.
func (e *SSHExecutor) WaitJob(ctx context.Context, handle JobHandle) (*Result, error) {
	h, ok := handle.(*sshJobHandle)
	if !ok {
		return nil, fmt.Errorf("wait_job: handle was not created by SSHExecutor")
	}
	defer h.session.Close()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case waitErr := <-h.done:
		return &Result{
			ExitCode: exitCodeOf(waitErr),
			Stdout:   h.stdout.String(),
			Stderr:   h.stderr.String(),
		}, nil
	}
}

// KillJob implements RemoteExecutor. Idempotent: a process that has
// already exited produces a nonzero `kill` exit which is swallowed.
func (e *SSHExecutor) KillJob(ctx context.Context, handle JobHandle) error {
	h, ok := handle.(*sshJobHandle)
	if !ok {
		return fmt.Errorf("kill_job: handle was not created by SSHExecutor")
	}

	client, err := e.clientFor(h.host)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening kill session on %s: %w", h.host, err)
	}
	defer session.Close()

	// Best-effort: a nonzero exit here (process already gone) is not an
	// error, per the idempotent contract.
	_ = session.Run(fmt.Sprintf("kill -9 %d", h.pid))
	return nil
}

// quoteArgv joins argv into a single shell command line with each
// argument single-quoted, so embedded spaces and shell metacharacters
// reach the remote command unchanged.
func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitStatus()
	}
	return -1
}

func asExitError(err error, target **ssh.ExitError) bool {
	if e, ok := err.(*ssh.ExitError); ok {
		*target = e
		return true
	}
	return false
}
