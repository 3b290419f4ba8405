package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/qr_order/internal/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type cartDocument struct {
	Key       string     `bson:"_id"`
	Payload   []byte     `bson:"payload"`
	SavedAt   time.Time  `bson:"saved_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// MongoBackend keeps one document per cart key. A TTL index on expires_at
// lets the server reap stale carts; reads also filter on it because the
// reaper only runs about once a minute.
type MongoBackend struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{
		collection: db.Collection("table_carts"),
		now:        time.Now,
	}
}

func (m *MongoBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var doc cartDocument
	filter := bson.M{"_id": key}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cart record: %w", err)
	}
	if doc.ExpiresAt != nil && m.now().After(*doc.ExpiresAt) {
		return nil, persistence.ErrNotFound
	}
	return doc.Payload, nil
}

func (m *MongoBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := m.now()
	set := bson.M{
		"payload":  data,
		"saved_at": now,
	}
	update := bson.M{"$set": set}
	if ttl > 0 {
		set["expires_at"] = now.Add(ttl)
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}

	filter := bson.M{"_id": key}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart record: %w", err)
	}
	return nil
}

func (m *MongoBackend) Delete(ctx context.Context, key string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete cart record: %w", err)
	}
	return nil
}

func (m *MongoBackend) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}

func (m *MongoBackend) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
