package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/auth"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/middleware"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.SessionDuration.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func userResponse(u *database.User) map[string]interface{} {
	return map[string]interface{}{
		"id":       u.ID,
		"username": u.Username,
		"role":     u.Role,
	}
}

func Login(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := database.GetUserByUsername(body.Username)
	if err != nil || !auth.CheckPassword(body.Password, user.PasswordHash) {
		Logger.Info("login failed", zap.String("username", body.Username))
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	sessionID, err := SessionStore.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	setSessionCookie(w, r, sessionID)
	writeJSON(w, http.StatusOK, userResponse(user))
}

func Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		SessionStore.Delete(cookie.Value)
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

func SetupRequired(w http.ResponseWriter, r *http.Request) {
	count, err := database.UserCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": count == 0})
}

// SetupCreateAdmin creates the first admin. It is refused once any user
// exists.
func SetupCreateAdmin(w http.ResponseWriter, r *http.Request) {
	count, err := database.UserCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if count > 0 {
		writeError(w, http.StatusConflict, "Setup already completed")
		return
	}

	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user := &database.User{
		Username:     body.Username,
		PasswordHash: hash,
		Role:         database.RoleAdmin,
	}
	if err := database.CreateUser(user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create admin user")
		return
	}

	sessionID, err := SessionStore.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	Logger.Info("admin user created", zap.String("username", user.Username))
	setSessionCookie(w, r, sessionID)
	writeJSON(w, http.StatusCreated, userResponse(user))
}
