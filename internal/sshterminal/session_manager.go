package sshterminal

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is the lifecycle state of a live shell.
type SessionState string

const (
	// SessionActive means a terminal view is attached.
	SessionActive SessionState = "active"
	// SessionDetached means the shell runs with no view attached.
	SessionDetached SessionState = "detached"
	// SessionClosed means the shell has ended.
	SessionClosed SessionState = "closed"
)

var (
	ErrSessionExists   = errors.New("a live shell already exists for this session")
	ErrNoLiveSession   = errors.New("no live shell for this session")
	ErrAlreadyAttached = errors.New("session already attached")
	ErrSessionClosed   = errors.New("session closed")
)

// ManagedSession is a live shell bound to a terminal session token.
type ManagedSession struct {
	Token     string
	DeviceID  uint
	CreatedAt time.Time

	Scrollback *ScrollbackBuffer
	// Recording is nil unless recording is enabled.
	Recording *Recording

	shell Shell

	mu           sync.Mutex
	state        SessionState
	lastActivity time.Time

	// outMu orders scrollback replay against live output.
	outMu  sync.Mutex
	writer io.Writer

	closeOnce sync.Once
	done      chan struct{}
}

func (ms *ManagedSession) State() SessionState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

func (ms *ManagedSession) LastActivity() time.Time {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastActivity
}

func (ms *ManagedSession) IsAttached() bool {
	ms.outMu.Lock()
	defer ms.outMu.Unlock()
	return ms.writer != nil
}

// Attach replays buffered output to w and then streams live output to it.
func (ms *ManagedSession) Attach(w io.Writer) error {
	ms.outMu.Lock()
	defer ms.outMu.Unlock()

	if ms.writer != nil {
		return ErrAlreadyAttached
	}
	ms.mu.Lock()
	if ms.state == SessionClosed {
		ms.mu.Unlock()
		return ErrSessionClosed
	}
	ms.state = SessionActive
	ms.lastActivity = time.Now()
	ms.mu.Unlock()

	if history := ms.Scrollback.Snapshot(); len(history) > 0 {
		if _, err := w.Write(history); err != nil {
			return err
		}
	}
	ms.writer = w
	return nil
}

// Detach stops streaming to the attached writer. The shell keeps running.
func (ms *ManagedSession) Detach() {
	ms.outMu.Lock()
	ms.writer = nil
	ms.outMu.Unlock()

	ms.mu.Lock()
	if ms.state == SessionActive {
		ms.state = SessionDetached
	}
	ms.lastActivity = time.Now()
	ms.mu.Unlock()
}

// WriteInput forwards keystrokes to the shell.
func (ms *ManagedSession) WriteInput(p []byte) (int, error) {
	if ms.State() == SessionClosed {
		return 0, ErrSessionClosed
	}
	if ms.Recording != nil {
		ms.Recording.RecordInput(p)
	}
	ms.mu.Lock()
	ms.lastActivity = time.Now()
	ms.mu.Unlock()
	return ms.shell.Write(p)
}

// Done is closed once the shell output has ended and OnClose returned.
func (ms *ManagedSession) Done() <-chan struct{} {
	return ms.done
}

// Close terminates the shell. Done is closed once its output is drained.
func (ms *ManagedSession) Close() {
	ms.closeOnce.Do(func() {
		ms.mu.Lock()
		ms.state = SessionClosed
		ms.lastActivity = time.Now()
		ms.mu.Unlock()
		ms.shell.Close()
	})
}

func (ms *ManagedSession) emit(data []byte) {
	ms.outMu.Lock()
	defer ms.outMu.Unlock()

	ms.Scrollback.Write(data)
	if ms.Recording != nil {
		ms.Recording.RecordOutput(data)
	}
	if ms.writer != nil {
		if _, err := ms.writer.Write(data); err != nil {
			ms.writer = nil
		}
	}
}

// SessionManager tracks live shells by session token.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ManagedSession

	// RecordingEnabled turns on I/O recording for new sessions.
	RecordingEnabled bool
	// ScrollbackSize is the scrollback limit for new sessions.
	ScrollbackSize int
	// IdleTimeout is how long a detached shell survives. Zero disables cleanup.
	IdleTimeout time.Duration
	// OnClose, when set, runs once for every session after its shell ended
	// and before its Done channel is closed.
	OnClose func(*ManagedSession)

	logger *zap.Logger
}

// DefaultIdleTimeout is the default lifetime of a detached shell.
const DefaultIdleTimeout = 30 * time.Minute

func NewSessionManager(logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		sessions:       make(map[string]*ManagedSession),
		ScrollbackSize: defaultScrollbackSize,
		IdleTimeout:    DefaultIdleTimeout,
		logger:         logger.Named("session-mgr"),
	}
}

// Start registers shell under token and begins relaying its output.
func (sm *SessionManager) Start(token string, deviceID uint, shell Shell) (*ManagedSession, error) {
	now := time.Now()
	ms := &ManagedSession{
		Token:        token,
		DeviceID:     deviceID,
		CreatedAt:    now,
		Scrollback:   NewScrollbackBuffer(sm.ScrollbackSize),
		shell:        shell,
		state:        SessionDetached,
		lastActivity: now,
		done:         make(chan struct{}),
	}
	if sm.RecordingEnabled {
		ms.Recording = NewRecording(0)
	}

	sm.mu.Lock()
	if _, ok := sm.sessions[token]; ok {
		sm.mu.Unlock()
		return nil, ErrSessionExists
	}
	sm.sessions[token] = ms
	sm.mu.Unlock()

	go sm.relayOutput(ms)

	sm.logger.Info("shell started", zap.String("session", token), zap.Uint("device_id", deviceID))
	return ms, nil
}

// relayOutput runs for the lifetime of the shell, independent of any view.
func (sm *SessionManager) relayOutput(ms *ManagedSession) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ms.shell.Output().Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ms.emit(data)
		}
		if err != nil {
			sm.logger.Debug("shell output ended", zap.String("session", ms.Token), zap.Error(err))
			break
		}
	}

	ms.Close()
	sm.mu.Lock()
	if sm.sessions[ms.Token] == ms {
		delete(sm.sessions, ms.Token)
	}
	sm.mu.Unlock()

	if sm.OnClose != nil {
		sm.OnClose(ms)
	}
	close(ms.done)
	sm.logger.Info("shell closed", zap.String("session", ms.Token))
}

func (sm *SessionManager) Get(token string) *ManagedSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[token]
}

func (sm *SessionManager) List() []*ManagedSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*ManagedSession, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		out = append(out, ms)
	}
	return out
}

// Close terminates the live shell of a session.
func (sm *SessionManager) Close(token string) error {
	ms := sm.Get(token)
	if ms == nil {
		return ErrNoLiveSession
	}
	ms.Close()
	sm.logger.Info("shell close requested", zap.String("session", token))
	return nil
}

// CloseAll terminates every live shell and waits for their relays to end.
func (sm *SessionManager) CloseAll() {
	for _, ms := range sm.List() {
		ms.Close()
		<-ms.Done()
	}
}

// CleanupIdle closes detached shells idle longer than IdleTimeout and
// returns how many were closed.
func (sm *SessionManager) CleanupIdle() int {
	if sm.IdleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-sm.IdleTimeout)
	n := 0
	for _, ms := range sm.List() {
		if ms.State() == SessionDetached && ms.LastActivity().Before(cutoff) {
			sm.logger.Info("closing idle shell",
				zap.String("session", ms.Token),
				zap.Time("last_activity", ms.LastActivity()))
			ms.Close()
			n++
		}
	}
	return n
}

// ActiveCount returns the number of live shells.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
