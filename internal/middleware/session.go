package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/httpjson"
	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

type contextKey string

const sessionContextKey contextKey = "terminal_session"

// SessionToken returns the session token of a request: the session query
// parameter, or the X-Session-Token header when the query has none.
func SessionToken(r *http.Request) string {
	if tok := r.URL.Query().Get(wire.ParamSession); tok != "" {
		return tok
	}
	return r.Header.Get(wire.SessionHeader)
}

// RequireSession loads the terminal session named by the request into its
// context. Requests without a token get 400, unknown tokens 404.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := SessionToken(r)
		if token == "" {
			httpjson.Error(w, http.StatusBadRequest, "Session token required")
			return
		}

		sess, err := database.GetSession(token)
		if errors.Is(err, database.ErrSessionNotFound) {
			httpjson.Error(w, http.StatusNotFound, "Session not found")
			return
		}
		if err != nil {
			httpjson.Error(w, http.StatusInternalServerError, "Failed to load session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession returns the session loaded by RequireSession, or nil.
func GetSession(r *http.Request) *database.TerminalSession {
	sess, _ := r.Context().Value(sessionContextKey).(*database.TerminalSession)
	return sess
}
