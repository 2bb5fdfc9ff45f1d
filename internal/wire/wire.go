// Package wire defines the messages exchanged between the terminal bridge
// and the server: the channel envelope and the shutdown beacon body.
package wire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Message types carried on the terminal channel.
const (
	// TypeInput is sent by the bridge; Data holds exactly one key value.
	TypeInput = "input"
	// TypeOutput is sent by the server; Data holds an arbitrary text chunk.
	TypeOutput = "output"
)

// Query parameter names used to address a terminal session.
const (
	ParamSession = "session"
	ParamDevice  = "device"
)

// Endpoint paths served by the terminal server.
const (
	TerminalPath = "/terminal"
	ShutdownPath = "/shutdown"
)

// SessionHeader lets callers that cannot set a query string identify the
// session on the shutdown endpoint.
const SessionHeader = "X-Session-Token"

// Message is the envelope of every channel frame.
type Message struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Input builds an input message for a single key.
func Input(key string) Message {
	return Message{Type: TypeInput, Data: key}
}

// Output builds an output message for a chunk of terminal output.
func Output(chunk string) Message {
	return Message{Type: TypeOutput, Data: chunk}
}

// EncodeTranscript returns the shutdown body for a transcript: the
// transcript itself as a JSON string.
func EncodeTranscript(transcript string) ([]byte, error) {
	return json.Marshal(transcript)
}

// DecodeTranscript parses a shutdown body. An empty body is not valid; an
// empty transcript is encoded as "".
func DecodeTranscript(body []byte) (string, error) {
	var transcript string
	if err := json.Unmarshal(body, &transcript); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	return transcript, nil
}

// TerminalURL returns the channel endpoint for a session on a device. The
// scheme of server is kept as-is; transports map it to their own scheme.
func TerminalURL(server, session, device string) (string, error) {
	u, err := endpoint(server, TerminalPath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(ParamSession, session)
	q.Set(ParamDevice, device)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ShutdownURL returns the beacon endpoint for a session.
func ShutdownURL(server, session string) (string, error) {
	u, err := endpoint(server, ShutdownPath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(ParamSession, session)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func endpoint(server, path string) (*url.URL, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
