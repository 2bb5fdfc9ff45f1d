package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

// Shell is an interactive shell attached to a PTY.
type Shell interface {
	// Write sends keystrokes to the shell.
	Write(p []byte) (int, error)
	// Output is the PTY output stream. It returns an error once the shell ends.
	Output() io.Reader
	Close() error
}

// Initial PTY size. Terminal views do not report their size to the server.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// TermType is the TERM value requested for every PTY.
const TermType = "xterm-256color"

// MaxInputMessageSize is the largest single input payload forwarded to a
// shell. Larger messages are dropped.
const MaxInputMessageSize = 64 * 1024

// AllowedShells lists the programs a local device may run.
var AllowedShells = []string{
	"/bin/bash",
	"/bin/sh",
	"/bin/zsh",
}

// DefaultShell is used for local devices when none is configured.
const DefaultShell = "/bin/bash"

// ValidateShell reports whether shell may be started locally. Empty means
// DefaultShell.
func ValidateShell(shell string) error {
	if shell == "" {
		return nil
	}
	for _, allowed := range AllowedShells {
		if shell == allowed {
			return nil
		}
	}
	return fmt.Errorf("shell %q is not allowed; permitted shells: %v", shell, AllowedShells)
}

// Target describes where to open a shell. Secrets are in plaintext.
type Target struct {
	Name       string
	Protocol   string
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
}

// Opener opens a shell on a target.
type Opener interface {
	OpenShell(ctx context.Context, t Target) (Shell, error)
}

var ErrUnsupportedProtocol = errors.New("unsupported device protocol")

// DeviceOpener opens SSH shells on remote devices and local PTY shells for
// devices with the local protocol.
type DeviceOpener struct {
	LocalShell     string
	ConnectTimeout time.Duration
}

func (o *DeviceOpener) OpenShell(ctx context.Context, t Target) (Shell, error) {
	switch t.Protocol {
	case database.ProtocolSSH, "":
		client, err := DialDevice(ctx, t, o.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		sh, err := OpenSSHShell(client, "")
		if err != nil {
			client.Close()
			return nil, err
		}
		sh.ownsClient = true
		return sh, nil
	case database.ProtocolLocal:
		return StartLocalShell(o.LocalShell)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, t.Protocol)
	}
}
