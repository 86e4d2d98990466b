package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"road-damage-reporting/services/report-service/conversation"
)

var ErrSessionNotFound = errors.New("conversation session not found")

// SessionStore keeps one conversation state per in-flight session. Turns
// within a session are serialized by whole-document replacement; the state
// is discarded once a report is durably created.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (conversation.State, error)
	Save(ctx context.Context, sessionID string, state conversation.State) error
	Delete(ctx context.Context, sessionID string) error
}

type sessionDocument struct {
	ID        string             `bson:"_id"`
	State     conversation.State `bson:"state"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type MongoSessionStore struct {
	collection *mongo.Collection
}

func NewMongoSessionStore(db *mongo.Database) *MongoSessionStore {
	return &MongoSessionStore{collection: db.Collection("sessions")}
}

func (s *MongoSessionStore) Load(ctx context.Context, sessionID string) (conversation.State, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc sessionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return conversation.State{}, ErrSessionNotFound
		}
		return conversation.State{}, err
	}

	return doc.State, nil
}

func (s *MongoSessionStore) Save(ctx context.Context, sessionID string, state conversation.State) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := sessionDocument{
		ID:        sessionID,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": sessionID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoSessionStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": sessionID})
	return err
}
