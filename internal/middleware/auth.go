package middleware

import (
	"context"
	"net/http"

	"github.com/eNMS-automation/eNMS-sub001/internal/auth"
	"github.com/eNMS-automation/eNMS-sub001/internal/config"
	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/httpjson"
)

const userContextKey contextKey = "user"

// RequireAuth loads the user of the login cookie into the request context.
// With AuthDisabled set, every request acts as the first admin.
func RequireAuth(store *auth.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Cfg.AuthDisabled {
				user, err := database.GetFirstAdmin()
				if err != nil {
					httpjson.Error(w, http.StatusInternalServerError, "No admin user found")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
				return
			}

			cookie, err := r.Cookie(auth.SessionCookie)
			if err != nil {
				httpjson.Error(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			userID, ok := store.Get(cookie.Value)
			if !ok {
				httpjson.Error(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			user, err := database.GetUserByID(userID)
			if err != nil {
				httpjson.Error(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r)
		if user == nil || user.Role != database.RoleAdmin {
			httpjson.Error(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}

// CanAccessSession reports whether the request user may see a terminal
// session: admins see all of them, other users only their own.
func CanAccessSession(r *http.Request, sess *database.TerminalSession) bool {
	user := GetUser(r)
	if user == nil || sess == nil {
		return false
	}
	if user.Role == database.RoleAdmin {
		return true
	}
	return sess.UserID != nil && *sess.UserID == user.ID
}
