package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

var (
	// ErrNotInitialized is returned by Run before Initialize succeeded.
	ErrNotInitialized = errors.New("bridge: session not initialized")
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("bridge: session already initialized")
	// ErrNoContainer is returned by a Terminal that has nothing to attach to.
	ErrNoContainer = errors.New("bridge: terminal container not available")
	// ErrChannelClosed is returned by Run when the server side went away.
	ErrChannelClosed = errors.New("bridge: channel closed")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Channel is a persistent, ordered, bidirectional message transport bound
// to one terminal session.
type Channel interface {
	// Emit sends one message. Messages leave in call order.
	Emit(ctx context.Context, msgType, data string) error
	// Next blocks until the next inbound output chunk arrives. Chunks are
	// returned in arrival order. io.EOF means the server closed normally.
	Next(ctx context.Context) (string, error)
	// Close ends the channel. A pending Next still returns the chunks that
	// arrived before the close and then fails.
	Close() error
}

// Dialer opens a Channel for a session token on a device.
type Dialer interface {
	Dial(ctx context.Context, session, device string) (Channel, error)
}

// Terminal is the emulator the bridge drives.
type Terminal interface {
	// Open attaches the emulator to its container. It returns
	// ErrNoContainer (possibly wrapped) when there is none.
	Open() error
	// Fit sizes the emulator to its container.
	Fit() (cols, rows int, err error)
	// Keys delivers key presses in press order. It is closed when the
	// emulator stops producing input.
	Keys() <-chan string
	// Write displays output.
	Write(p []byte) (int, error)
}

// Beacon delivers a final payload without blocking the caller. The outcome
// is never reported and nothing is retried.
type Beacon interface {
	SendBeacon(url string, body []byte)
}

// Config identifies the server and the session to bridge.
type Config struct {
	// ServerURL is the base URL of the terminal server, e.g. http://enms:5000.
	ServerURL string
	// SessionID is the opaque token created server-side for this view.
	SessionID string
	// DeviceID identifies the target device.
	DeviceID string
}

func (c Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is empty")
	}
	if c.SessionID == "" {
		return errors.New("session id is empty")
	}
	if c.DeviceID == "" {
		return errors.New("device id is empty")
	}
	return nil
}

// drainTimeout bounds how long Unload waits for the channel to hand over
// output that already arrived.
const drainTimeout = 2 * time.Second

// Session is one terminal view bound to one remote shell.
type Session struct {
	cfg      Config
	terminal Terminal
	dialer   Dialer
	beacon   Beacon
	logger   *zap.Logger

	transcript Transcript

	mu         sync.Mutex
	state      State
	channel    Channel
	sent       int
	events     chan inbound
	cancelRead context.CancelFunc
	stop       chan struct{}
	running    sync.WaitGroup
	unloadOnce sync.Once
}

// NewSession wires a session. A nil logger disables logging.
func NewSession(cfg Config, terminal Terminal, dialer Dialer, beacon Beacon, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:      cfg,
		terminal: terminal,
		dialer:   dialer,
		beacon:   beacon,
		stop:     make(chan struct{}),
		logger: logger.With(
			zap.String("session", cfg.SessionID),
			zap.String("device", cfg.DeviceID),
		),
	}
}

// Initialize opens the channel, attaches the terminal and fits it to its
// container. It may succeed at most once.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if err := s.cfg.validate(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	ch, err := s.dialer.Dial(ctx, s.cfg.SessionID, s.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := s.terminal.Open(); err != nil {
		ch.Close()
		return fmt.Errorf("open terminal: %w", err)
	}

	if cols, rows, err := s.terminal.Fit(); err != nil {
		s.logger.Warn("fit terminal", zap.Error(err))
	} else {
		s.logger.Debug("terminal fitted", zap.Int("cols", cols), zap.Int("rows", rows))
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.channel = ch
	s.events = make(chan inbound)
	s.cancelRead = cancel
	s.state = StateStreaming
	go s.readLoop(readCtx, ch, s.events)

	s.logger.Info("terminal bridge initialized")
	return nil
}

type inbound struct {
	chunk string
	err   error
}

// readLoop pulls inbound chunks for the whole life of the session. A chunk
// taken off the channel is always handed to Run or Unload; events is
// closed after the first error.
func (s *Session) readLoop(ctx context.Context, ch Channel, events chan<- inbound) {
	defer close(events)
	for {
		chunk, err := ch.Next(ctx)
		events <- inbound{chunk: chunk, err: err}
		if err != nil {
			return
		}
	}
}

// Run dispatches key presses and inbound output until ctx is done, the
// terminal stops producing keys, the session is unloaded, or the channel
// ends. It is the only goroutine that touches the channel's send side and
// the transcript while it runs.
//
// Run returns nil on ctx cancellation, end of keys or unload, and
// ErrChannelClosed when the channel ended first.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	ch := s.channel
	events := s.events
	if s.state != StateStreaming || ch == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	keys := s.terminal.Keys()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.stop:
			return nil

		case key, ok := <-keys:
			if !ok {
				s.logger.Debug("terminal input ended")
				return nil
			}
			s.handleKey(ctx, ch, key)

		case ev, ok := <-events:
			if !ok {
				return ErrChannelClosed
			}
			if ev.err != nil {
				if errors.Is(ev.err, io.EOF) {
					s.logger.Info("channel closed by server")
				} else {
					s.logger.Warn("channel failed", zap.Error(ev.err))
				}
				return ErrChannelClosed
			}
			s.handleOutput(ev.chunk)
		}
	}
}

func (s *Session) handleKey(ctx context.Context, ch Channel, key string) {
	if err := ch.Emit(ctx, wire.TypeInput, key); err != nil {
		s.logger.Debug("input not delivered", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

func (s *Session) handleOutput(chunk string) {
	if _, err := s.terminal.Write([]byte(chunk)); err != nil {
		s.logger.Debug("terminal write", zap.Error(err))
	}
	s.transcript.Append(chunk)
}

// Unload stops Run, closes the channel, appends the output the channel
// still delivers, and flushes the transcript to the shutdown endpoint
// through the beacon. Only the first call has any effect.
func (s *Session) Unload() {
	s.unloadOnce.Do(func() {
		s.mu.Lock()
		ch := s.channel
		events := s.events
		s.channel = nil
		s.state = StateTerminated
		s.mu.Unlock()

		close(s.stop)
		s.running.Wait()

		var closed chan error
		if ch != nil {
			closed = make(chan error, 1)
			go func() { closed <- ch.Close() }()
			s.drain(events)
		}

		transcript := s.transcript.String()
		s.flush(transcript)

		if closed != nil {
			if err := <-closed; err != nil {
				s.logger.Debug("close channel", zap.Error(err))
			}
			s.cancelRead()
		}
		s.logger.Info("terminal bridge unloaded", zap.Int("transcript_bytes", len(transcript)))
	})
}

// drain handles the chunks the read loop still delivers until the channel
// reports its end.
func (s *Session) drain(events <-chan inbound) {
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.err == nil {
				s.handleOutput(ev.chunk)
			}
		case <-timer.C:
			s.logger.Warn("channel did not end after close, flushing transcript as is")
			s.cancelRead()
			go func() {
				for range events {
				}
			}()
			return
		}
	}
}

func (s *Session) flush(transcript string) {
	url, err := wire.ShutdownURL(s.cfg.ServerURL, s.cfg.SessionID)
	if err != nil {
		s.logger.Warn("shutdown url", zap.Error(err))
		return
	}
	body, err := wire.EncodeTranscript(transcript)
	if err != nil {
		s.logger.Warn("encode transcript", zap.Error(err))
		return
	}
	s.beacon.SendBeacon(url, body)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns everything displayed so far.
func (s *Session) Transcript() string {
	return s.transcript.String()
}

// InputsSent returns the number of input messages handed to the channel.
func (s *Session) InputsSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
