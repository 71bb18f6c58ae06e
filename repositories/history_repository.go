package repositories

import (
	"context"
	"errors"
	"fmt"

	"safewalk/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// HistoryRepository is the durable remote store for alert history. Records
// are inserted once and never updated.
type HistoryRepository struct {
	collection *mongo.Collection
}

func NewHistoryRepository(database *mongo.Database) *HistoryRepository {
	return &HistoryRepository{
		collection: database.Collection("alert_history"),
	}
}

// Append inserts the record unless one with the same id already exists, so
// replays from the local backup are harmless.
func (hr *HistoryRepository) Append(ctx context.Context, record models.HistoryRecord) error {
	if record.ID == "" {
		return errors.New("history record without id")
	}

	raw, err := bson.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	delete(doc, "_id")

	_, err = hr.collection.UpdateOne(
		ctx,
		bson.M{"_id": record.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		logrus.Errorf("Failed to append alert history: %v", err)
		return err
	}
	return nil
}

// ReadRecent returns the user's records, most recent first.
func (hr *HistoryRepository) ReadRecent(ctx context.Context, userID string, limit int) ([]models.HistoryRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "triggeredAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := hr.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		logrus.Errorf("Failed to read alert history: %v", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []models.HistoryRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		logrus.Errorf("Failed to decode alert history: %v", err)
		return nil, err
	}
	return records, nil
}
