package handlers

import (
	"net/http"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.PingContext(r.Context()); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"database":    dbStatus,
		"live_shells": TermSessionMgr.ActiveCount(),
	})
}
