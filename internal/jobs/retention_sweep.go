package jobs

import (
	"context"

	"github.com/sirupsen/logrus"

	"reverie/internal/services"
)

// RetentionSweep re-enforces the per-user summary cap and prunes
// summary-hash sets whose summary list is gone. Trims normally happen
// inline on every summary write; this job repairs lists that grew past
// the cap out of band, for example after the cap was lowered.
type RetentionSweep struct {
	store    *services.MemoryService
	archiver services.Archiver
}

// NewRetentionSweep creates the sweep job. archiver may be nil, in
// which case trimmed overflow is dropped.
func NewRetentionSweep(store *services.MemoryService, archiver services.Archiver) *RetentionSweep {
	return &RetentionSweep{store: store, archiver: archiver}
}

func (j *RetentionSweep) Name() string { return "retention-sweep" }

func (j *RetentionSweep) Run(ctx context.Context) error {
	var trimmed, pruned int

	err := j.store.ScanSummaryOwners(ctx, func(userIDs []string) error {
		for _, uid := range userIDs {
			evicted, err := j.store.TrimSummaries(ctx, uid)
			if err != nil {
				logrus.Warnf("⚠️ [RETENTION] Trim failed for user %s: %v", uid, err)
				continue
			}
			if len(evicted) == 0 {
				continue
			}
			trimmed += len(evicted)
			if j.archiver != nil {
				j.archiver.ArchiveSummaries(evicted)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = j.store.ScanHashOwners(ctx, func(userIDs []string) error {
		for _, uid := range userIDs {
			ok, err := j.store.PruneOrphanHashes(ctx, uid)
			if err != nil {
				logrus.Warnf("⚠️ [RETENTION] Hash prune failed for user %s: %v", uid, err)
				continue
			}
			if ok {
				pruned++
			}
		}
		return nil
	})

	logrus.Infof("🧹 [RETENTION] Trimmed %d summaries past cap, pruned %d orphaned hash sets", trimmed, pruned)
	return err
}
