package configs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"telegram-filestream/repositories"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectDB connects to MongoDB and pings the primary.
func ConnectDB(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// OpenBadger opens the embedded store at path.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	return db, nil
}

// OpenStore opens the store selected by STORE_DRIVER. ping reports whether
// the store is reachable and close releases it.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store *repositories.Store, ping func(context.Context) error, closeFn func(), err error) {
	switch cfg.StoreDriver {
	case "mongo":
		client, err := ConnectDB(ctx, cfg.MongoURL)
		if err != nil {
			return nil, nil, nil, err
		}
		db := client.Database(cfg.MongoDatabase)
		if err := SetupIndexes(ctx, db); err != nil {
			logger.Warn("Failed to set up indexes, continuing", slog.String("error", err.Error()))
		}
		logger.Info("Connected to MongoDB", slog.String("database", cfg.MongoDatabase))

		ping = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		closeFn = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Warn("Error disconnecting from MongoDB", slog.String("error", err.Error()))
			}
		}
		return repositories.NewMongoStore(db), ping, closeFn, nil

	default:
		db, err := OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("Opened Badger store", slog.String("path", cfg.BadgerPath))

		ping = func(context.Context) error {
			if db.IsClosed() {
				return fmt.Errorf("badger is closed")
			}
			return nil
		}
		closeFn = func() {
			logger.Info("Closing Badger store")
			if err := db.Close(); err != nil {
				logger.Warn("Error closing Badger", slog.String("error", err.Error()))
			}
		}
		return repositories.NewBadgerStore(db), ping, closeFn, nil
	}
}
