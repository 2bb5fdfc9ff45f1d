// Package channel implements the terminal channel over a websocket using
// github.com/coder/websocket. Frames are JSON envelopes (see package wire).
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/bridge"
	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

// defaultReadLimit bounds a single inbound frame. Shell output arrives in
// chunks of at most 32 KB plus envelope overhead.
const defaultReadLimit = 1024 * 1024

// Dialer opens websocket channels against one terminal server.
type Dialer struct {
	// ServerURL is the base URL of the server (http, https, ws or wss).
	ServerURL string
	// Header is sent with the upgrade request (cookies, auth).
	Header http.Header
	// ReadLimit overrides the maximum inbound frame size when > 0.
	ReadLimit int64
	// HTTPClient overrides the client used for the handshake.
	HTTPClient *http.Client

	logger *zap.Logger
}

// NewDialer returns a Dialer for serverURL. A nil logger disables logging.
func NewDialer(serverURL string, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{ServerURL: serverURL, logger: logger}
}

// Dial connects to the terminal endpoint for session on device.
func (d *Dialer) Dial(ctx context.Context, session, device string) (bridge.Channel, error) {
	u, err := wire.TerminalURL(d.ServerURL, session, device)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial terminal channel: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial terminal channel: %w", err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	d.logger.Debug("terminal channel connected", zap.String("url", u))
	return &Conn{conn: conn, logger: d.logger}, nil
}

// Conn is one open terminal channel.
type Conn struct {
	conn   *websocket.Conn
	logger *zap.Logger
}

// Emit sends one envelope. coder/websocket serializes concurrent writers,
// so frames leave in call order.
func (c *Conn) Emit(ctx context.Context, msgType, data string) error {
	return wsjson.Write(ctx, c.conn, wire.Message{Type: msgType, Data: data})
}

// Next returns the payload of the next output frame. Frames of other types
// are skipped. A normal close from the server is reported as io.EOF.
func (c *Conn) Next(ctx context.Context) (string, error) {
	for {
		var msg wire.Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return "", io.EOF
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				return "", fmt.Errorf("channel closed: %d %s", closeErr.Code, closeErr.Reason)
			}
			return "", err
		}
		if msg.Type != wire.TypeOutput {
			c.logger.Debug("ignoring channel frame", zap.String("type", msg.Type))
			continue
		}
		return msg.Data, nil
	}
}

// Close closes the channel with a normal closure.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
