package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telegram-filestream/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	FilesCollection      = "file_records"
	UsersCollection      = "users"
	BroadcastsCollection = "broadcasts"
	AdminLogsCollection  = "admin_logs"
)

// NewMongoStore builds repositories on top of db. The driver pools
// connections internally, so the same *mongo.Database is safe to share.
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Files: &MongoFileRepository{collection: db.Collection(FilesCollection)},
		Users: &MongoUserRepository{collection: db.Collection(UsersCollection)},
		Audit: &MongoAuditRepository{
			broadcasts: db.Collection(BroadcastsCollection),
			adminLogs:  db.Collection(AdminLogsCollection),
		},
	}
}

type MongoFileRepository struct {
	collection *mongo.Collection
}

func (r *MongoFileRepository) Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, bool, error) {
	_, err := r.collection.InsertOne(ctx, rec)
	if err == nil {
		return rec, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("failed to insert file record: %w", err)
	}
	existing, err := r.GetByUniqueID(ctx, rec.FileUniqueID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *MongoFileRepository) GetByUniqueID(ctx context.Context, fileUniqueID string) (*models.FileRecord, error) {
	var rec models.FileRecord
	if err := r.collection.FindOne(ctx, bson.M{"_id": fileUniqueID}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return &rec, nil
}

func (r *MongoFileRepository) FindByToken(ctx context.Context, token string) ([]models.FileRecord, error) {
	return r.find(ctx, bson.M{"token": token}, options.Find().SetLimit(8))
}

func (r *MongoFileRepository) ListByUser(ctx context.Context, userID int64) ([]models.FileRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.find(ctx, bson.M{"user_id": userID}, opts)
}

func (r *MongoFileRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.FileRecord, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find file records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.FileRecord
	if err = cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode file records: %w", err)
	}
	return records, nil
}

// IncrementCounter relies on $inc, which is atomic per document, so
// concurrent streams of the same file never lose an update.
func (r *MongoFileRepository) IncrementCounter(ctx context.Context, fileUniqueID string, kind models.EventKind, at time.Time) error {
	update := bson.M{
		"$inc": bson.M{counterField(kind): 1},
		"$set": bson.M{"last_accessed": at},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": fileUniqueID}, update)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", kind, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoFileRepository) Totals(ctx context.Context) (models.FileTotals, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "files", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "size", Value: bson.D{{Key: "$sum", Value: "$size"}}},
			{Key: "views", Value: bson.D{{Key: "$sum", Value: "$views"}}},
			{Key: "downloads", Value: bson.D{{Key: "$sum", Value: "$downloads"}}},
		}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return models.FileTotals{}, fmt.Errorf("failed to aggregate file totals: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Files     int64 `bson:"files"`
		Size      int64 `bson:"size"`
		Views     int64 `bson:"views"`
		Downloads int64 `bson:"downloads"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return models.FileTotals{}, fmt.Errorf("failed to decode file totals: %w", err)
	}
	if len(rows) == 0 {
		return models.FileTotals{}, nil
	}
	return models.FileTotals{
		Files:     rows[0].Files,
		Size:      rows[0].Size,
		Views:     rows[0].Views,
		Downloads: rows[0].Downloads,
	}, nil
}

type MongoUserRepository struct {
	collection *mongo.Collection
}

func (r *MongoUserRepository) Touch(ctx context.Context, profile models.User, at time.Time) (*models.User, error) {
	set := bson.M{"last_activity": at}
	if profile.Username != "" {
		set["username"] = profile.Username
	}
	if profile.FirstName != "" {
		set["first_name"] = profile.FirstName
	}
	if profile.LastName != "" {
		set["last_name"] = profile.LastName
	}
	if profile.LanguageCode != "" {
		set["language_code"] = profile.LanguageCode
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"joined_at":           at,
			"files_uploaded":      0,
			"total_size_uploaded": 0,
			"is_banned":           false,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var user models.User
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": profile.ID}, update, opts).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", profile.ID, err)
	}
	return &user, nil
}

func (r *MongoUserRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

func (r *MongoUserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_banned": banned}})
	if err != nil {
		return fmt.Errorf("failed to update ban flag of %d: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) AddUpload(ctx context.Context, id int64, size int64, at time.Time) error {
	update := bson.M{
		"$inc": bson.M{"files_uploaded": 1, "total_size_uploaded": size},
		"$set": bson.M{"last_activity": at},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to add upload for %d: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) ListReachable(ctx context.Context) ([]models.User, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"is_banned": false})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

func (r *MongoUserRepository) Counts(ctx context.Context, now time.Time) (models.UserCounts, error) {
	var counts models.UserCounts
	queries := []struct {
		dst    *int64
		filter bson.M
	}{
		{&counts.Total, bson.M{}},
		{&counts.Banned, bson.M{"is_banned": true}},
		{&counts.Active7d, bson.M{"last_activity": bson.M{"$gte": now.Add(-7 * 24 * time.Hour)}}},
		{&counts.Active24h, bson.M{"last_activity": bson.M{"$gte": now.Add(-24 * time.Hour)}}},
		{&counts.NewToday, bson.M{"joined_at": bson.M{"$gte": now.Add(-24 * time.Hour)}}},
		{&counts.NewWeek, bson.M{"joined_at": bson.M{"$gte": now.Add(-7 * 24 * time.Hour)}}},
		{&counts.NewMonth, bson.M{"joined_at": bson.M{"$gte": now.Add(-30 * 24 * time.Hour)}}},
	}
	for _, q := range queries {
		n, err := r.collection.CountDocuments(ctx, q.filter)
		if err != nil {
			return models.UserCounts{}, fmt.Errorf("failed to count users: %w", err)
		}
		*q.dst = n
	}
	return counts, nil
}

type MongoAuditRepository struct {
	broadcasts *mongo.Collection
	adminLogs  *mongo.Collection
}

func (r *MongoAuditRepository) SaveBroadcast(ctx context.Context, b *models.Broadcast) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.broadcasts.ReplaceOne(ctx, bson.M{"_id": b.ID}, b, opts); err != nil {
		return fmt.Errorf("failed to save broadcast %s: %w", b.ID, err)
	}
	return nil
}

func (r *MongoAuditRepository) LogAdminAction(ctx context.Context, entry *models.AdminLog) error {
	if _, err := r.adminLogs.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert admin log: %w", err)
	}
	return nil
}
