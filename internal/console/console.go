// Package console is the terminal emulator used by the command-line bridge:
// the process's own TTY. Input is switched to raw mode so that every key
// press reaches the remote shell untouched.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/eNMS-automation/eNMS-sub001/internal/bridge"
)

// EscapeKey (Ctrl-]) detaches the console instead of being forwarded.
const EscapeKey = "\x1d"

// Fallback size when output is not a terminal.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// Console implements bridge.Terminal on top of an input reader and an
// output writer. When either side is a TTY it is driven through x/term.
type Console struct {
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	keys chan string

	mu       sync.Mutex
	opened   bool
	rawFd    int
	rawState *term.State
}

// New returns a console reading keys from in and displaying on out.
func New(in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		in:     in,
		out:    out,
		logger: logger,
		keys:   make(chan string, 64),
		rawFd:  -1,
	}
}

// Open puts a TTY input in raw mode and starts reading key presses.
func (c *Console) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.in == nil || c.out == nil {
		return bridge.ErrNoContainer
	}
	if c.opened {
		return errors.New("console already open")
	}

	if fd, ok := fdOf(c.in); ok && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		c.rawFd = fd
		c.rawState = state
	}

	c.opened = true
	go c.readKeys()
	return nil
}

func (c *Console) readKeys() {
	defer close(c.keys)
	buf := make([]byte, 4096)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			for _, key := range SplitKeys(buf[:n]) {
				if key == EscapeKey {
					c.logger.Debug("escape key pressed, detaching")
					return
				}
				c.keys <- key
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("console input ended", zap.Error(err))
			}
			return
		}
	}
}

// Fit reports the output size; non-TTY outputs get DefaultCols x DefaultRows.
func (c *Console) Fit() (int, int, error) {
	fd, ok := fdOf(c.out)
	if !ok || !term.IsTerminal(fd) {
		return DefaultCols, DefaultRows, nil
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return DefaultCols, DefaultRows, fmt.Errorf("get terminal size: %w", err)
	}
	return cols, rows, nil
}

// Keys returns the key press stream. It is closed on end of input or when
// EscapeKey is pressed.
func (c *Console) Keys() <-chan string {
	return c.keys
}

// Write displays output as-is.
func (c *Console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Close restores the TTY mode changed by Open.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rawState == nil {
		return nil
	}
	err := term.Restore(c.rawFd, c.rawState)
	c.rawState = nil
	return err
}

func fdOf(v any) (int, bool) {
	f, ok := v.(*os.File)
	if !ok || f == nil {
		return 0, false
	}
	return int(f.Fd()), true
}
