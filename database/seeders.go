package database

import (
	"context"
	"time"

	"safewalk/models"
	"safewalk/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// DemoUserID owns the seeded contacts. Tokens for it can be minted with
// utils.JWTService.IssueAccessToken.
const DemoUserID = "demo-user"

// Seeder represents a database seeder
type Seeder struct {
	Name        string
	Description string
	Seed        func(context.Context, *mongo.Database) error
}

var seeders = []Seeder{
	{
		Name:        "demo_contacts",
		Description: "Create emergency contacts for the demo user",
		Seed:        seedDemoContacts,
	},
}

// RunSeeders executes every seeder that has not been recorded yet.
func RunSeeders(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	seedersCol := db.Collection("seeders")

	logrus.Info("🌱 Running database seeders...")

	for _, seeder := range seeders {
		count, err := seedersCol.CountDocuments(ctx, bson.M{"name": seeder.Name})
		if err == nil && count > 0 {
			continue
		}

		logrus.Infof("🔄 Running seeder: %s", seeder.Name)

		if err := seeder.Seed(ctx, db); err != nil {
			logrus.Errorf("❌ Seeder %s failed: %v", seeder.Name, err)
			continue
		}

		_, err = seedersCol.InsertOne(ctx, bson.M{
			"name":      seeder.Name,
			"createdAt": time.Now(),
		})
		if err != nil {
			logrus.Warnf("Failed to record seeder %s: %v", seeder.Name, err)
		}

		logrus.Infof("✅ Seeder %s completed", seeder.Name)
	}

	return nil
}

func seedDemoContacts(ctx context.Context, db *mongo.Database) error {
	col := db.Collection("emergency_contacts")

	contacts := []models.Contact{
		{
			ID:             utils.GenerateUUID(),
			UserID:         DemoUserID,
			Name:           "Alex Rivera",
			Phone:          "+15550100001",
			TelegramChatID: "100000001",
			Priority:       1,
		},
		{
			ID:       utils.GenerateUUID(),
			UserID:   DemoUserID,
			Name:     "Sam Chen",
			Phone:    "+15550100002",
			Priority: 2,
		},
	}

	docs := make([]interface{}, 0, len(contacts))
	for _, c := range contacts {
		docs = append(docs, c)
	}
	_, err := col.InsertMany(ctx, docs)
	return err
}
