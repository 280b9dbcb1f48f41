package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reverie/internal/database"
	"reverie/internal/models"
)

const archiveWriteTimeout = 10 * time.Second

// ArchiveService moves summaries evicted past the Redis retention cap
// into MongoDB. The live pipeline never blocks on it and never fails
// because of it.
type ArchiveService struct {
	db      *database.MongoDB
	metrics *Metrics
}

// NewArchiveService creates the archive writer.
func NewArchiveService(db *database.MongoDB, metrics *Metrics) *ArchiveService {
	return &ArchiveService{db: db, metrics: metrics}
}

// ArchiveSummaries inserts evicted summaries in the background.
// Duplicates (same user and block hash) are silently skipped via the
// unique index, so re-archiving after a partial failure is safe.
func (a *ArchiveService) ArchiveSummaries(summaries []*models.ConversationSummary) {
	if len(summaries) == 0 {
		return
	}

	docs := make([]interface{}, len(summaries))
	for i, s := range summaries {
		docs[i] = s
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		defer cancel()

		coll := a.db.Collection(database.CollectionSummaryArchive)
		res, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			logrus.Warnf("⚠️ [ARCHIVE] Failed to archive %d summaries: %v", len(docs), err)
			return
		}

		inserted := len(docs)
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		if a.metrics != nil {
			a.metrics.RecordSummaryArchived(inserted)
		}
		logrus.Infof("📦 [ARCHIVE] Archived %d summaries", inserted)
	}()
}

// ListArchived returns a user's archived summaries, newest first.
func (a *ArchiveService) ListArchived(ctx context.Context, userID string, limit int) ([]*models.ConversationSummary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := a.db.Collection(database.CollectionSummaryArchive).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	summaries := []*models.ConversationSummary{}
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// DeleteUser removes every archived summary for a user. Part of the
// erase flow.
func (a *ArchiveService) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := a.db.Collection(database.CollectionSummaryArchive).DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
