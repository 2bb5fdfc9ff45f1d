package sshterminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// RecordingEvent is one timestamped I/O event, asciicast v2 style.
type RecordingEvent struct {
	// Elapsed is the time since the recording started, in seconds.
	Elapsed float64
	// Type is "o" for shell output and "i" for keystrokes.
	Type string
	Data string
}

// Recording captures a session's I/O for audit. Safe for concurrent use.
type Recording struct {
	mu        sync.Mutex
	events    []RecordingEvent
	start     time.Time
	maxEvents int
	dropped   int
}

// NewRecording starts a recording. maxEvents <= 0 means unlimited.
func NewRecording(maxEvents int) *Recording {
	return &Recording{start: time.Now(), maxEvents: maxEvents}
}

func (r *Recording) RecordOutput(data []byte) { r.record("o", data) }

func (r *Recording) RecordInput(data []byte) { r.record("i", data) }

func (r *Recording) record(typ string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxEvents > 0 && len(r.events) >= r.maxEvents {
		r.dropped++
		return
	}
	r.events = append(r.events, RecordingEvent{
		Elapsed: time.Since(r.start).Seconds(),
		Type:    typ,
		Data:    string(data),
	})
}

func (r *Recording) Events() []RecordingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordingEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Dropped is the number of events discarded after maxEvents was reached.
func (r *Recording) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

type castHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// ExportCast renders the recording as an asciicast v2 file: a JSON header
// line followed by one [elapsed, type, data] array per event.
func (r *Recording) ExportCast() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(castHeader{
		Version:   2,
		Width:     DefaultCols,
		Height:    DefaultRows,
		Timestamp: r.start.Unix(),
		Env:       map[string]string{"TERM": TermType},
	}); err != nil {
		return nil, fmt.Errorf("encode cast header: %w", err)
	}
	for _, ev := range r.events {
		if err := enc.Encode([]interface{}{ev.Elapsed, ev.Type, ev.Data}); err != nil {
			return nil, fmt.Errorf("encode cast event: %w", err)
		}
	}
	return buf.Bytes(), nil
}
