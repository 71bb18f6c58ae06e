package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	client   *mongo.Client
	database *mongo.Database
)

// Connect establishes connection to MongoDB and applies pending migrations.
// Demo data is seeded only when seed is set.
func Connect(databaseURL string, seed bool) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(databaseURL)

	// Configure connection pool
	clientOptions.SetMaxPoolSize(100)
	clientOptions.SetMinPoolSize(5)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)

	// History reads may come from a secondary
	clientOptions.SetReadPreference(readpref.PrimaryPreferred())

	var err error
	client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDatabaseName(databaseURL)
	database = client.Database(dbName)

	logrus.Info("✅ Connected to MongoDB successfully")
	logrus.Infof("📊 Database: %s", dbName)

	if err := RunMigrations(database); err != nil {
		logrus.Warnf("Migration warning: %v", err)
	}

	if seed {
		if err := RunSeeders(database); err != nil {
			logrus.Warnf("Seeder warning: %v", err)
		}
	}

	return database, nil
}

// Disconnect closes the MongoDB connection
func Disconnect() error {
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		logrus.Errorf("Error disconnecting from MongoDB: %v", err)
		return err
	}

	logrus.Info("🔌 Disconnected from MongoDB")
	return nil
}

// IsConnected checks if the database connection is alive
func IsConnected(ctx context.Context) bool {
	if client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return client.Ping(ctx, readpref.Primary()) == nil
}

// extractDatabaseName takes the path segment of the URI, ignoring query
// parameters. "admin" and an empty path fall back to the default name.
func extractDatabaseName(uri string) string {
	defaultDB := "safewalk"

	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] != '/' {
			continue
		}
		if i > 0 && uri[i-1] == '/' {
			// scheme separator, no path
			break
		}
		dbName := uri[i+1:]
		for j, char := range dbName {
			if char == '?' || char == '&' {
				dbName = dbName[:j]
				break
			}
		}
		if dbName != "" && dbName != "admin" {
			return dbName
		}
		break
	}

	return defaultDB
}
