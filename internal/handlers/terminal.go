package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eNMS-automation/eNMS-sub001/internal/crypto"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/logutil"
	"github.com/eNMS-automation/eNMS-sub001/internal/metrics"
	"github.com/eNMS-automation/eNMS-sub001/internal/sshterminal"
	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

// Websocket close codes sent by the terminal endpoint.
const (
	CloseSessionNotFound websocket.StatusCode = 4004
	CloseSessionEnded    websocket.StatusCode = 4010
	CloseAlreadyAttached websocket.StatusCode = 4409
	CloseBackendFailure  websocket.StatusCode = 4500
)

// Input limits per terminal connection. Messages over the rate are dropped.
var (
	InputRateLimit rate.Limit = 100
	InputRateBurst            = 200
	// ShellOpenTimeout bounds connecting to a device.
	ShellOpenTimeout = 15 * time.Second
)

const terminalReadLimit = 1024 * 1024

// TerminalWSProxy bridges a terminal view to the device shell of its
// session.
//
// Query parameters:
//   - session: token of a pending or detached session
//   - device: id of the device the session was issued for
//
// The first view of a session opens the shell. If the view drops without
// a shutdown, the shell keeps running (detached) and the next view for the
// same session receives the buffered output first.
//
// Browsers may connect only from the server's own origin or one listed in
// AllowedOrigins.
func TerminalWSProxy(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(wire.ParamSession)
	deviceParam := r.URL.Query().Get(wire.ParamDevice)
	if token == "" || deviceParam == "" {
		writeError(w, http.StatusBadRequest, "session and device are required")
		return
	}
	deviceID, err := strconv.ParseUint(deviceParam, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid device ID")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: AllowedOrigins,
	})
	if err != nil {
		Logger.Warn("accept terminal websocket", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	log := Logger.With(
		zap.String("session", logutil.SanitizeForLog(token)),
		zap.Uint64("device_id", deviceID),
	)
	ctx := r.Context()

	sess, err := database.GetSession(token)
	if err != nil {
		if !errors.Is(err, database.ErrSessionNotFound) {
			log.Error("load session", zap.Error(err))
		}
		conn.Close(CloseSessionNotFound, "Session not found")
		return
	}
	if sess.DeviceID != uint(deviceID) {
		conn.Close(CloseSessionNotFound, "Session not found for device")
		return
	}
	if sess.Status == database.SessionClosed {
		conn.Close(CloseSessionEnded, "Session closed")
		return
	}

	ms, err := liveShell(ctx, sess)
	if err != nil {
		log.Warn("open device shell", zap.Error(err))
		conn.Close(CloseBackendFailure, "Failed to open shell on device")
		return
	}

	conn.SetReadLimit(terminalReadLimit)

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	out := &wsOutputWriter{conn: conn, ctx: relayCtx}
	if err := ms.Attach(out); err != nil {
		if errors.Is(err, sshterminal.ErrAlreadyAttached) {
			conn.Close(CloseAlreadyAttached, "Session already attached")
		} else {
			conn.Close(CloseSessionEnded, "Shell ended")
		}
		return
	}
	// The session may have been shut down while the shell was opening.
	if err := database.ActivateSession(token); err != nil {
		relayCancel()
		ms.Detach()
		if errors.Is(err, database.ErrSessionClosed) || errors.Is(err, database.ErrSessionNotFound) {
			TermSessionMgr.Close(token)
			log.Info("session closed while attaching")
			conn.Close(CloseSessionEnded, "Session closed")
		} else {
			log.Error("mark session active", zap.Error(err))
			conn.Close(CloseBackendFailure, "Failed to update session")
		}
		return
	}
	Metrics.TerminalsAttached.Inc()
	log.Info("terminal attached")

	defer func() {
		relayCancel()
		if err := database.DetachSession(token); err != nil {
			log.Warn("mark session detached", zap.Error(err))
		}
		ms.Detach()
		Metrics.TerminalsAttached.Dec()
		log.Info("terminal detached")
	}()

	// Shell exit ends the view with a normal closure.
	go func() {
		select {
		case <-ms.Done():
			conn.Close(websocket.StatusNormalClosure, "shell exited")
		case <-relayCtx.Done():
		}
	}()

	limiter := rate.NewLimiter(InputRateLimit, InputRateBurst)
	for {
		var msg wire.Message
		if err := wsjson.Read(relayCtx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && relayCtx.Err() == nil {
				log.Debug("terminal read ended", zap.Error(err))
			}
			break
		}

		if !limiter.Allow() {
			Metrics.InputDropped.WithLabelValues(metrics.DropRate).Inc()
			continue
		}
		if msg.Type != wire.TypeInput {
			Metrics.InputDropped.WithLabelValues(metrics.DropType).Inc()
			continue
		}
		if len(msg.Data) > sshterminal.MaxInputMessageSize {
			Metrics.InputDropped.WithLabelValues(metrics.DropSize).Inc()
			log.Warn("terminal input too large", zap.Int("size", len(msg.Data)))
			continue
		}
		if _, err := ms.WriteInput([]byte(msg.Data)); err != nil {
			break
		}
		Metrics.Messages.WithLabelValues("input").Inc()
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// liveShell returns the running shell of a session, opening one on the
// device when there is none.
func liveShell(ctx context.Context, sess *database.TerminalSession) (*sshterminal.ManagedSession, error) {
	if ms := TermSessionMgr.Get(sess.Token); ms != nil {
		return ms, nil
	}

	device, err := database.SessionDevice(sess)
	if err != nil {
		return nil, err
	}
	target, err := deviceTarget(device)
	if err != nil {
		return nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, ShellOpenTimeout)
	defer cancel()
	shell, err := ShellOpener.OpenShell(openCtx, target)
	if err != nil {
		return nil, err
	}

	ms, err := TermSessionMgr.Start(sess.Token, sess.DeviceID, shell)
	if errors.Is(err, sshterminal.ErrSessionExists) {
		// Another view opened the shell first.
		shell.Close()
		if ms := TermSessionMgr.Get(sess.Token); ms != nil {
			return ms, nil
		}
	}
	if err != nil {
		return nil, err
	}
	Metrics.LiveShells.Inc()
	return ms, nil
}

func deviceTarget(d *database.Device) (sshterminal.Target, error) {
	password, err := crypto.Decrypt(d.Password)
	if err != nil {
		return sshterminal.Target{}, err
	}
	key, err := crypto.Decrypt(d.PrivateKey)
	if err != nil {
		return sshterminal.Target{}, err
	}
	return sshterminal.Target{
		Name:       d.Name,
		Protocol:   d.Protocol,
		Host:       d.Host,
		Port:       d.Port,
		Username:   d.Username,
		Password:   password,
		PrivateKey: key,
	}, nil
}

// OnShellClosed is installed as TermSessionMgr.OnClose. It stores the
// recording, if any, on the session row.
func OnShellClosed(ms *sshterminal.ManagedSession) {
	Metrics.LiveShells.Dec()
	if ms.Recording == nil {
		return
	}
	cast, err := ms.Recording.ExportCast()
	if err != nil {
		Logger.Warn("export recording", zap.String("session", ms.Token), zap.Error(err))
		return
	}
	if err := database.SaveRecording(ms.Token, string(cast)); err != nil {
		Logger.Warn("save recording", zap.String("session", ms.Token), zap.Error(err))
	}
}

// wsOutputWriter sends shell output as output messages. A UTF-8 sequence
// split across reads is held back until it is complete.
type wsOutputWriter struct {
	conn    *websocket.Conn
	ctx     context.Context
	pending []byte
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
		w.pending = nil
	}
	complete, rest := splitUTF8(data)
	if len(rest) > 0 {
		w.pending = append([]byte(nil), rest...)
	}
	if len(complete) == 0 {
		return len(p), nil
	}
	if err := wsjson.Write(w.ctx, w.conn, wire.Output(string(complete))); err != nil {
		return 0, err
	}
	Metrics.Messages.WithLabelValues("output").Inc()
	return len(p), nil
}

// splitUTF8 separates a trailing incomplete UTF-8 sequence from p.
func splitUTF8(p []byte) (complete, rest []byte) {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(p); i++ {
		b := p[len(p)-i]
		if !utf8.RuneStart(b) {
			continue
		}
		if !utf8.FullRune(p[len(p)-i:]) {
			return p[:len(p)-i], p[len(p)-i:]
		}
		break
	}
	return p, nil
}
