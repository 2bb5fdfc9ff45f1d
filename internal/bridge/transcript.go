package bridge

import (
	"strings"
	"sync"
)

// Transcript is the append-only record of everything a session displayed.
// It is safe for concurrent use: Run appends while Unload may read from
// another goroutine.
type Transcript struct {
	mu     sync.Mutex
	buf    strings.Builder
	chunks int
}

// Append adds one output chunk to the end of the transcript.
func (t *Transcript) Append(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.WriteString(chunk)
	t.chunks++
}

// String returns the concatenation of all chunks in arrival order.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Len returns the transcript size in bytes.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

// Chunks returns how many chunks have been appended.
func (t *Transcript) Chunks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks
}
