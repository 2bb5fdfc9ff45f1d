package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/logutil"
	"github.com/eNMS-automation/eNMS-sub001/internal/middleware"
	"github.com/eNMS-automation/eNMS-sub001/internal/sshterminal"
	"github.com/eNMS-automation/eNMS-sub001/internal/wire"
)

// MaxTranscriptSize bounds the shutdown body.
const MaxTranscriptSize = 64 << 20

// Shutdown receives the transcript a terminal view sends when it unloads.
// The body is the transcript as a JSON string. The transcript is stored on
// the session, the live shell is closed and the session becomes closed.
//
// Must be mounted behind middleware.RequireSession.
func Shutdown(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r)
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	log := Logger.With(zap.String("session", logutil.SanitizeForLog(sess.Token)))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxTranscriptSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Transcript too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read transcript")
		return
	}
	transcript, err := wire.DecodeTranscript(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Transcript must be a JSON string")
		return
	}

	if err := database.CloseSession(sess.Token, transcript); err != nil {
		log.Error("store transcript", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store transcript")
		return
	}
	if err := TermSessionMgr.Close(sess.Token); err != nil && !errors.Is(err, sshterminal.ErrNoLiveSession) {
		log.Warn("close shell", zap.Error(err))
	}

	Metrics.Transcripts.Inc()
	Metrics.TranscriptBytes.Observe(float64(len(transcript)))
	log.Info("transcript received", zap.Int("bytes", len(transcript)))
	w.WriteHeader(http.StatusNoContent)
}
