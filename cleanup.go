package main

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eNMS-automation/eNMS-sub001/internal/database"
	"github.com/eNMS-automation/eNMS-sub001/internal/handlers"
)

type cleanupPolicy struct {
	// PendingTTL is how long an unused session token stays valid.
	PendingTTL time.Duration
	// Retention is how long closed sessions and their transcripts are kept.
	// Zero keeps them forever.
	Retention time.Duration
}

// startCleanup runs runCleanup on schedule until the returned cron is
// stopped.
func startCleanup(schedule string, policy cleanupPolicy, logger *zap.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, func() { runCleanup(time.Now(), policy, logger) }); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// runCleanup expires stale pending sessions, closes idle detached shells,
// drops expired API logins and purges closed sessions past retention.
func runCleanup(now time.Time, policy cleanupPolicy, logger *zap.Logger) {
	if policy.PendingTTL > 0 {
		n, err := database.ExpirePendingSessions(now.Add(-policy.PendingTTL))
		if err != nil {
			logger.Error("expire pending sessions", zap.Error(err))
		} else if n > 0 {
			handlers.Metrics.CleanupRemoved.WithLabelValues("pending").Add(float64(n))
			logger.Info("expired pending sessions", zap.Int64("count", n))
		}
	}

	if n := handlers.TermSessionMgr.CleanupIdle(); n > 0 {
		handlers.Metrics.CleanupRemoved.WithLabelValues("idle_shell").Add(float64(n))
		logger.Info("closed idle shells", zap.Int("count", n))
	}

	if n := handlers.SessionStore.Cleanup(); n > 0 {
		handlers.Metrics.CleanupRemoved.WithLabelValues("login").Add(float64(n))
		logger.Debug("dropped expired logins", zap.Int("count", n))
	}

	if policy.Retention > 0 {
		n, err := database.PurgeClosedSessions(now.Add(-policy.Retention))
		if err != nil {
			logger.Error("purge closed sessions", zap.Error(err))
		} else if n > 0 {
			handlers.Metrics.CleanupRemoved.WithLabelValues("closed").Add(float64(n))
			logger.Info("purged closed sessions", zap.Int64("count", n))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
