package sshterminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// LocalShell is a shell process on the server's own PTY.
type LocalShell struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	closeErr  error
}

// StartLocalShell starts shell (DefaultShell when empty) on a new PTY.
func StartLocalShell(shell string) (*LocalShell, error) {
	if err := ValidateShell(shell); err != nil {
		return nil, fmt.Errorf("validate shell: %w", err)
	}
	if shell == "" {
		shell = DefaultShell
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM="+TermType)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: DefaultCols, Rows: DefaultRows})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", shell, err)
	}
	return &LocalShell{cmd: cmd, ptmx: ptmx}, nil
}

func (s *LocalShell) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

func (s *LocalShell) Output() io.Reader { return s.ptmx }

// Close kills the process and releases the PTY.
func (s *LocalShell) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.closeErr = s.ptmx.Close()
		s.cmd.Wait()
	})
	return s.closeErr
}
