// Package database wraps the optional MongoDB archive backend. Redis
// holds the live memory tiers; Mongo only receives summaries evicted
// past the retention cap and serves compliance export/erase.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	CollectionSummaryArchive = "summary_archive"
)

// MongoDB wraps the MongoDB client and database.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// NewMongoDB connects with pooling and verifies the connection.
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = "reverie"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	logrus.Infof("✅ [MONGO] Connected to database: %s", dbName)
	return db, nil
}

// extractDBName pulls the database name out of a MongoDB URI
// (mongodb://host:27017/reverie?authSource=admin -> reverie).
func extractDBName(uri string) string {
	lastSlash, questionMark := -1, -1
	for i, c := range uri {
		if c == '/' {
			lastSlash = i
		}
		if c == '?' && questionMark == -1 {
			questionMark = i
		}
	}
	if lastSlash == -1 {
		return ""
	}

	start := lastSlash + 1
	end := len(uri)
	if questionMark != -1 && questionMark > lastSlash {
		end = questionMark
	}
	if start >= end {
		return ""
	}
	return uri[start:end]
}

// Initialize creates the archive indexes: newest-first per-user reads,
// and a unique block hash per user so re-archiving the same summary is
// a no-op.
func (m *MongoDB) Initialize(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "block_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := m.Collection(CollectionSummaryArchive).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create summary_archive indexes: %w", err)
	}
	logrus.Info("📦 [MONGO] summary_archive indexes ready")
	return nil
}

// Collection returns a collection handle.
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Ping checks connection health.
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
