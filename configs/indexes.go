package configs

import (
	"context"
	"fmt"
	"time"

	"telegram-filestream/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SetupIndexes creates the MongoDB indexes the repositories query by.
func SetupIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	files := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetName("idx_token"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created_at"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at_desc"),
		},
	}
	if _, err := db.Collection(repositories.FilesCollection).Indexes().CreateMany(ctx, files); err != nil {
		return fmt.Errorf("failed to create file indexes: %w", err)
	}

	users := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "is_banned", Value: 1}},
			Options: options.Index().SetName("idx_is_banned"),
		},
		{
			Keys:    bson.D{{Key: "last_activity", Value: -1}},
			Options: options.Index().SetName("idx_last_activity"),
		},
		{
			Keys:    bson.D{{Key: "joined_at", Value: -1}},
			Options: options.Index().SetName("idx_joined_at"),
		},
	}
	if _, err := db.Collection(repositories.UsersCollection).Indexes().CreateMany(ctx, users); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	logs := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "admin_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_admin_timestamp"),
		},
	}
	if _, err := db.Collection(repositories.AdminLogsCollection).Indexes().CreateMany(ctx, logs); err != nil {
		return fmt.Errorf("failed to create admin log indexes: %w", err)
	}
	return nil
}
