package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/auth"
	"github.com/eNMS-automation/eNMS-sub001/internal/httpjson"
	"github.com/eNMS-automation/eNMS-sub001/internal/metrics"
	"github.com/eNMS-automation/eNMS-sub001/internal/sshterminal"
)

// Set from main.go during startup.
var (
	// TermSessionMgr keeps device shells alive between terminal views.
	TermSessionMgr = sshterminal.NewSessionManager(nil)
	// ShellOpener opens shells on devices.
	ShellOpener sshterminal.Opener = &sshterminal.DeviceOpener{}
	Metrics                         = metrics.New()
	Logger                          = zap.NewNop()
	// SessionStore holds API login sessions.
	SessionStore = auth.NewSessionStore()
	// AllowedOrigins lists the cross-origin hosts that may open terminal
	// websockets. The server's own host is always allowed.
	AllowedOrigins []string
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	httpjson.Write(w, status, v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	httpjson.Error(w, status, detail)
}
