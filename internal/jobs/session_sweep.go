package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"reverie/internal/apperrors"
	"reverie/internal/config"
	"reverie/internal/services"
)

// sweepLockTTL bounds how long the sweep may hold one session's lock.
const sweepLockTTL = 30 * time.Second

// SessionSweep summarizes idle sessions before their TTL discards the
// history. Live turns refresh the session TTL on every write, so TTL
// decay is the idle signal; LastActivity is re-checked under the lock
// in case the session woke up between scan and lock.
type SessionSweep struct {
	store      *services.MemoryService
	summarizer *services.SummarizerService
	archiver   services.Archiver
	metrics    *services.Metrics
	sessionTTL time.Duration
	idleAfter  time.Duration
}

// NewSessionSweep creates the sweep job. archiver and metrics may be
// nil.
func NewSessionSweep(store *services.MemoryService, summarizer *services.SummarizerService, archiver services.Archiver, metrics *services.Metrics, cfg *config.Config) *SessionSweep {
	return &SessionSweep{
		store:      store,
		summarizer: summarizer,
		archiver:   archiver,
		metrics:    metrics,
		sessionTTL: cfg.SessionTTL,
		idleAfter:  cfg.SessionSweepIdle,
	}
}

func (j *SessionSweep) Name() string { return "session-sweep" }

// Run scans live sessions and rolls up the idle ones. Per-session
// failures are logged and skipped so one bad record cannot stall the
// sweep.
func (j *SessionSweep) Run(ctx context.Context) error {
	var scanned, swept int
	err := j.store.ScanSessionKeys(ctx, func(sessionIDs []string) error {
		for _, id := range sessionIDs {
			scanned++
			ok, err := j.sweepOne(ctx, id)
			if err != nil {
				logrus.Warnf("⚠️ [SWEEP] Session %s sweep failed: %v", id, err)
				continue
			}
			if ok {
				swept++
			}
		}
		return nil
	})
	if swept > 0 || err != nil {
		logrus.Infof("🧹 [SWEEP] Scanned %d sessions, rolled up %d idle", scanned, swept)
	}
	return err
}

func (j *SessionSweep) sweepOne(ctx context.Context, sessionID string) (bool, error) {
	// Cheap idle pre-filter: a session written within the idle window
	// still has most of its TTL left, so it can be skipped without a
	// read of the record itself.
	remaining, err := j.store.SessionTTL(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if remaining <= 0 || j.sessionTTL-remaining < j.idleAfter {
		return false, nil
	}

	token, err := j.store.LockSession(ctx, sessionID, sweepLockTTL)
	if err != nil || token == "" {
		return false, err
	}
	defer func() {
		if err := j.store.UnlockSession(ctx, sessionID, token); err != nil {
			logrus.Warnf("⚠️ [SWEEP] Failed to release lock for session %s: %v", sessionID, err)
		}
	}()

	session, err := j.store.GetSession(ctx, sessionID)
	if err != nil {
		if apperrors.IsRecordNotFound(err) {
			return false, nil // expired between scan and lock
		}
		return false, err
	}
	if time.Since(session.LastActivity) < j.idleAfter {
		return false, nil
	}
	if session.UnsummarizedCount() <= 0 || len(session.RecentExchanges) == 0 {
		return false, nil
	}

	summary, evicted, err := j.summarizer.SummarizeRemainder(ctx, session)
	if err != nil {
		return false, err
	}

	// Write back with the remaining TTL so compaction does not extend
	// an idle session's lifetime.
	if err := j.store.PutSessionWithTTL(ctx, session, remaining); err != nil {
		return false, err
	}

	if summary != nil && j.metrics != nil {
		j.metrics.RecordSummaryCreated()
	}
	if len(evicted) > 0 && j.archiver != nil {
		j.archiver.ArchiveSummaries(evicted)
	}
	if j.metrics != nil {
		j.metrics.RecordSessionSwept()
	}
	logrus.Debugf("🧹 [SWEEP] Rolled up session %s (idle %s)", sessionID, (j.sessionTTL - remaining).Round(time.Minute))
	return true, nil
}
