package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/iliyamo/leafguard/internal/model"
)

// mongoUser is the document layout of the LeafGuard collection: one document
// per user with the analysis history embedded, newest entry first.
type mongoUser struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Username  string        `bson:"username"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	History   []mongoEntry  `bson:"history"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

type mongoEntry struct {
	ID             string    `bson:"entryId"`
	PlantType      string    `bson:"plantType"`
	Status         string    `bson:"status"`
	Recommendation string    `bson:"recommendation"`
	ImageURL       string    `bson:"imageUrl"`
	ThumbnailURL   string    `bson:"thumbnailUrl"`
	AnalyzedAt     time.Time `bson:"analyzedAt"`
}

func (d mongoUser) toModel() model.User {
	return model.User{
		ID:           d.ID.Hex(),
		Name:         d.Username,
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
	}
}

func (e mongoEntry) toModel() model.HistoryEntry {
	return model.HistoryEntry{
		ID:             e.ID,
		PlantType:      e.PlantType,
		Status:         e.Status,
		Recommendation: e.Recommendation,
		ImageURL:       e.ImageURL,
		ThumbnailURL:   e.ThumbnailURL,
		AnalyzedAt:     e.AnalyzedAt.UTC(),
	}
}

func fromModelEntry(e model.HistoryEntry) mongoEntry {
	return mongoEntry{
		ID:             e.ID,
		PlantType:      e.PlantType,
		Status:         e.Status,
		Recommendation: e.Recommendation,
		ImageURL:       e.ImageURL,
		ThumbnailURL:   e.ThumbnailURL,
		AnalyzedAt:     e.AnalyzedAt,
	}
}

// MongoStore implements Store on a single MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects, pings and ensures the unique email index.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	s := &MongoStore{client: client, coll: client.Database(database).Collection(collection)}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	if _, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_email"),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo email index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Create(ctx context.Context, u model.User) (model.User, error) {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	doc := mongoUser{
		ID:        bson.NewObjectID(),
		Username:  u.Name,
		Email:     NormalizeEmail(u.Email),
		Password:  u.PasswordHash,
		History:   []mongoEntry{},
		CreatedAt: u.CreatedAt,
		UpdatedAt: now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return doc.toModel(), nil
}

func (s *MongoStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}})
}

func (s *MongoStore) GetByID(ctx context.Context, id string) (model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return model.User{}, ErrNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D) (model.User, error) {
	var doc mongoUser
	err := s.coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.D{{Key: "history", Value: 0}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return doc.toModel(), nil
}

// Append pushes the entry to the front of the embedded history array in a
// single atomic update.
func (s *MongoStore) Append(ctx context.Context, userID string, e model.HistoryEntry) (model.HistoryEntry, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return model.HistoryEntry{}, ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.AnalyzedAt.IsZero() {
		e.AnalyzedAt = time.Now().UTC()
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "history", Value: bson.D{
			{Key: "$each", Value: bson.A{fromModelEntry(e)}},
			{Key: "$position", Value: 0},
		}}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
	}
	res, err := s.coll.UpdateByID(ctx, oid, update)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if res.MatchedCount == 0 {
		return model.HistoryEntry{}, ErrNotFound
	}
	return e, nil
}

// Page slices the embedded array server side so only one page travels.
func (s *MongoStore) Page(ctx context.Context, userID string, offset, limit int) (model.HistoryPage, error) {
	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return model.HistoryPage{}, ErrNotFound
	}
	history := bson.D{{Key: "$ifNull", Value: bson.A{"$history", bson.A{}}}}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: oid}}}},
		{{Key: "$project", Value: bson.D{
			{Key: "username", Value: 1},
			{Key: "total", Value: bson.D{{Key: "$size", Value: history}}},
			{Key: "history", Value: bson.D{{Key: "$slice", Value: bson.A{history, offset, limit}}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return model.HistoryPage{}, err
	}
	var docs []struct {
		Username string       `bson:"username"`
		Total    int          `bson:"total"`
		History  []mongoEntry `bson:"history"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return model.HistoryPage{}, err
	}
	if len(docs) == 0 {
		return model.HistoryPage{}, ErrNotFound
	}
	page := model.HistoryPage{
		Username: docs[0].Username,
		Total:    docs[0].Total,
		Entries:  make([]model.HistoryEntry, 0, len(docs[0].History)),
	}
	for _, e := range docs[0].History {
		page.Entries = append(page.Entries, e.toModel())
	}
	return page, nil
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *MongoStore) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }
