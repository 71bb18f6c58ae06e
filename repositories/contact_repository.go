package repositories

import (
	"context"

	"safewalk/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ContactRepository reads the emergency contacts maintained by the settings
// side. The engine never writes to it.
type ContactRepository struct {
	collection *mongo.Collection
}

func NewContactRepository(database *mongo.Database) *ContactRepository {
	return &ContactRepository{
		collection: database.Collection("emergency_contacts"),
	}
}

// GetContacts returns the user's contacts, highest priority (lowest number)
// first.
func (cr *ContactRepository) GetContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: 1},
		{Key: "name", Value: 1},
	})

	cursor, err := cr.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		logrus.Errorf("Failed to get emergency contacts: %v", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	contacts := []models.Contact{}
	if err = cursor.All(ctx, &contacts); err != nil {
		logrus.Errorf("Failed to decode emergency contacts: %v", err)
		return nil, err
	}
	return contacts, nil
}
