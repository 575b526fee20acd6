package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/quartissimo/realtime/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PresenceLogRepository keeps the history of presence transitions
type PresenceLogRepository interface {
	Record(ctx context.Context, event *models.PresenceEvent) error
	LastSeen(ctx context.Context, userID uint) (*time.Time, error)
}

// MongoPresenceLogRepository implements PresenceLogRepository for MongoDB
type MongoPresenceLogRepository struct {
	collection *mongo.Collection
}

// NewMongoPresenceLogRepository creates a new MongoPresenceLogRepository
func NewMongoPresenceLogRepository(db *mongo.Database) *MongoPresenceLogRepository {
	return &MongoPresenceLogRepository{collection: db.Collection("presence_events")}
}

// Record inserts one transition
func (r *MongoPresenceLogRepository) Record(ctx context.Context, event *models.PresenceEvent) error {
	event.ID = primitive.NewObjectID()
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, event)
	return err
}

// LastSeen returns the time of the latest transition, or nil if the user never connected
func (r *MongoPresenceLogRepository) LastSeen(ctx context.Context, userID uint) (*time.Time, error) {
	var event models.PresenceEvent
	opts := options.FindOne().SetSort(bson.D{{Key: "at", Value: -1}})
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &event.At, nil
}
