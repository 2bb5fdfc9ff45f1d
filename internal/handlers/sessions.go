package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/middleware"
	"github.com/eNMS-automation/eNMS-sub001/internal/sshterminal"
)

type createSessionRequest struct {
	DeviceID uint `json:"device_id"`
}

type sessionResponse struct {
	database.TerminalSession
	Live     bool `json:"live"`
	Attached bool `json:"attached"`
}

func toSessionResponse(s database.TerminalSession) sessionResponse {
	resp := sessionResponse{TerminalSession: s}
	if ms := TermSessionMgr.Get(s.Token); ms != nil {
		resp.Live = true
		resp.Attached = ms.IsAttached()
	}
	return resp
}

// CreateSession issues a pending session token for a device, owned by the
// request user.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DeviceID == 0 {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	sess, err := database.CreateUserSession(req.DeviceID, user.ID)
	if errors.Is(err, database.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		Logger.Error("create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	Metrics.SessionsCreated.Inc()
	Logger.Info("session created", zap.String("session", sess.Token), zap.Uint("device_id", sess.DeviceID))
	writeJSON(w, http.StatusCreated, toSessionResponse(*sess))
}

// ListSessions returns every session to admins and their own sessions to
// other users.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var (
		sessions []database.TerminalSession
		err      error
	)
	if user.Role == database.RoleAdmin {
		sessions, err = database.ListSessions()
	} else {
		sessions, err = database.ListUserSessions(user.ID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	resp := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		resp[i] = toSessionResponse(s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

// GetSession returns one session including its transcript. Sessions the
// user may not access are reported as not found.
func GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := database.GetSession(chi.URLParam(r, "token"))
	if err == nil && !middleware.CanAccessSession(r, sess) {
		err = database.ErrSessionNotFound
	}
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(*sess))
}

// CloseSession ends a session from the management side. Its live shell is
// terminated; a transcript already received is kept.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sess, err := database.GetSession(token)
	if err == nil && !middleware.CanAccessSession(r, sess) {
		err = database.ErrSessionNotFound
	}
	if errors.Is(err, database.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}

	if err := TermSessionMgr.Close(token); err != nil && !errors.Is(err, sshterminal.ErrNoLiveSession) {
		writeError(w, http.StatusInternalServerError, "Failed to close shell")
		return
	}
	if sess.Status != database.SessionClosed {
		if err := database.SetSessionStatus(token, database.SessionClosed); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to close session")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": database.SessionClosed})
}
