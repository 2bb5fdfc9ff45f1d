package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultConnectTimeout = 10 * time.Second

// DialDevice opens an SSH client connection to a device using its password
// and, when present, its private key.
func DialDevice(ctx context.Context, t Target, timeout time.Duration) (*ssh.Client, error) {
	if t.Host == "" {
		return nil, errors.New("device has no host")
	}
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	var auth []ssh.AuthMethod
	if t.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(t.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if t.Password != "" {
		password := t.Password
		auth = append(auth,
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
	if len(auth) == 0 {
		return nil, errors.New("device has no credentials")
	}

	port := t.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// SSHShell is a PTY session on an SSH connection.
type SSHShell struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session
	client  *ssh.Client
	// ownsClient closes client together with the session.
	ownsClient bool
}

// OpenSSHShell requests a PTY on a new session and starts the login shell,
// or command when it is not empty.
func OpenSSHShell(client *ssh.Client, command string) (*SSHShell, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(TermType, DefaultRows, DefaultCols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if command == "" {
		err = session.Shell()
	} else {
		err = session.Start(command)
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &SSHShell{stdin: stdin, stdout: stdout, session: session, client: client}, nil
}

func (s *SSHShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *SSHShell) Output() io.Reader { return s.stdout }

func (s *SSHShell) Close() error {
	err := s.session.Close()
	if s.ownsClient {
		s.client.Close()
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
