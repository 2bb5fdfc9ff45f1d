package sshterminal

import "sync"

// defaultScrollbackSize is the default maximum scrollback size (1 MB).
const defaultScrollbackSize = 1024 * 1024

// ScrollbackBuffer keeps the most recent shell output so that a terminal
// view attaching to a detached session sees what it missed. Once the buffer
// holds more than maxLen bytes the oldest bytes are dropped.
type ScrollbackBuffer struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
	total  int64
}

// NewScrollbackBuffer creates a buffer; maxLen <= 0 selects 1 MB.
func NewScrollbackBuffer(maxLen int) *ScrollbackBuffer {
	if maxLen <= 0 {
		maxLen = defaultScrollbackSize
	}
	return &ScrollbackBuffer{maxLen: maxLen}
}

func (s *ScrollbackBuffer) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += int64(len(p))
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = append(s.data[:0:0], s.data[len(s.data)-s.maxLen:]...)
	}
}

// Snapshot returns a copy of the buffered output.
func (s *ScrollbackBuffer) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

func (s *ScrollbackBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Total is the number of bytes ever written, including trimmed ones.
func (s *ScrollbackBuffer) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
