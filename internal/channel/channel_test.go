package channel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

// echoServer answers every input frame with an output frame "echo:<key>",
// after first sending a frame of an unknown type. It closes normally when
// it receives the key "q".
func echoServer(t *testing.T, seen chan<- *http.Request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wire.TerminalPath {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			seen <- r
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		if err := wsjson.Write(ctx, conn, wire.Message{Type: "session_info", Data: "x"}); err != nil {
			return
		}
		for {
			var msg wire.Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			if msg.Type == wire.TypeInput && msg.Data == "q" {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, wire.Output("echo:"+msg.Data)); err != nil {
				return
			}
		}
	}))
}

func TestDialer_SendsIdentifiersAsQuery(t *testing.T) {
	seen := make(chan *http.Request, 1)
	srv := echoServer(t, seen)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewDialer(srv.URL, nil).Dial(ctx, "abc123", "42")
	require.NoError(t, err)
	defer ch.Close()

	r := <-seen
	assert.Equal(t, "abc123", r.URL.Query().Get(wire.ParamSession))
	assert.Equal(t, "42", r.URL.Query().Get(wire.ParamDevice))
}

func TestConn_EmitAndNextPreserveOrder(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewDialer(srv.URL, nil).Dial(ctx, "s", "d")
	require.NoError(t, err)
	defer ch.Close()

	keys := []string{"l", "s", "\r", "\x1b[A"}
	for _, k := range keys {
		require.NoError(t, ch.Emit(ctx, wire.TypeInput, k))
	}
	for _, k := range keys {
		got, err := ch.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "echo:"+k, got)
	}
}

func TestConn_NormalCloseIsEOF(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewDialer(srv.URL, nil).Dial(ctx, "s", "d")
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Emit(ctx, wire.TypeInput, "q"))
	_, err = ch.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_AbnormalCloseIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(4004, "Session not found")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := NewDialer(srv.URL, nil).Dial(ctx, "s", "d")
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Next(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "Session not found")
}

func TestDialer_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewDialer(srv.URL, nil).Dial(ctx, "s", "d")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "403"), err.Error())
}

func TestDialer_BadServerURL(t *testing.T) {
	_, err := NewDialer("not-a-url", nil).Dial(context.Background(), "s", "d")
	assert.Error(t, err)
}
