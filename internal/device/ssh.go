package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport drives a device CLI over SSH and copies files with scp.
type SSHTransport struct {
	client  *ssh.Client
	address string
	timeout time.Duration
}

// DialSSH opens an SSH connection to host. A username on the target
// overrides cfg.Username.
func DialSSH(ctx context.Context, cfg Config, host string, port int, username string) (*SSHTransport, error) {
	if username == "" {
		username = cfg.Username
	}
	if port == 0 {
		port = cfg.Port
	}
	if port == 0 {
		port = DefaultPort
	}

	clientConfig, err := clientConfig(cfg, username)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH session with %s: %w", address, err)
	}
	_ = conn.SetDeadline(time.Time{})

	timeout := cfg.CommandTimeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	slog.Debug("Connected to device", "address", address, "username", username)
	return &SSHTransport{
		client:  ssh.NewClient(c, chans, reqs),
		address: address,
		timeout: timeout,
	}, nil
}

func clientConfig(cfg Config, username string) (*ssh.ClientConfig, error) {
	if username == "" {
		return nil, errors.New("device username is required")
	}

	var methods []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		keyBytes, err := os.ReadFile(expandHome(cfg.PrivateKeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		password := cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, errors.New("device password or private key file is required")
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.CommandTimeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		slog.Warn("Device host key verification is disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := cfg.KnownHostsFile
	if file == "" {
		file = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(expandHome(file))
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", file, err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// withSession runs fn on a fresh session and tears the session down when ctx
// is done before fn returns.
func (t *SSHTransport) withSession(ctx context.Context, fn func(s *ssh.Session) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	session, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", t.address, err)
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		done <- fn(session)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		session.Close()
		<-done
		return ctx.Err()
	}
}

func (t *SSHTransport) Run(ctx context.Context, cmd string) (string, error) {
	var out []byte
	err := t.withSession(ctx, func(s *ssh.Session) error {
		var err error
		out, err = s.CombinedOutput(cmd)
		return err
	})
	output := string(out)
	if cerr := checkOutput(cmd, output); cerr != nil {
		return output, cerr
	}
	if err != nil {
		return output, fmt.Errorf("failed to run %q on %s: %w", cmd, t.address, err)
	}
	return output, nil
}

func (t *SSHTransport) RunBatch(ctx context.Context, cmds []string) (string, error) {
	var buf bytes.Buffer
	err := t.withSession(ctx, func(s *ssh.Session) error {
		stdin, err := s.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to open stdin: %w", err)
		}
		s.Stdout = &buf
		s.Stderr = &buf

		if err := s.Shell(); err != nil {
			return fmt.Errorf("failed to start shell: %w", err)
		}

		for _, cmd := range cmds {
			if _, err := io.WriteString(stdin, cmd+"\n"); err != nil {
				return fmt.Errorf("failed to send %q: %w", cmd, err)
			}
		}
		if _, err := io.WriteString(stdin, "exit\n"); err != nil {
			return fmt.Errorf("failed to close CLI session: %w", err)
		}
		stdin.Close()

		return s.Wait()
	})

	output := buf.String()
	batch := strings.Join(cmds, "; ")
	if cerr := checkOutput(batch, output); cerr != nil {
		return output, cerr
	}
	if err != nil {
		return output, fmt.Errorf("failed to run command batch on %s: %w", t.address, err)
	}
	return output, nil
}

func (t *SSHTransport) Upload(ctx context.Context, r io.Reader, size int64, remotePath string) error {
	dir, name := path.Split(remotePath)
	if dir == "" {
		dir = "."
	}

	err := t.withSession(ctx, func(s *ssh.Session) error {
		stdin, err := s.StdinPipe()
		if err != nil {
			return fmt.Errorf("failed to open stdin: %w", err)
		}
		stdout, err := s.StdoutPipe()
		if err != nil {
			return fmt.Errorf("failed to open stdout: %w", err)
		}

		if err := s.Start("scp -t " + dir); err != nil {
			return fmt.Errorf("failed to start scp: %w", err)
		}
		if err := scpSend(stdin, stdout, name, 0o600, size, r); err != nil {
			return err
		}
		return s.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", name, t.address, err)
	}

	slog.Debug("Copied file to device", "address", t.address, "path", remotePath, "bytes", size)
	return nil
}

func (t *SSHTransport) Close() error {
	return t.client.Close()
}
