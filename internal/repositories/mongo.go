package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dm-service/internal/models"
)

type mongoMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	SenderID   string             `bson:"sender_id"`
	ReceiverID string             `bson:"receiver_id"`
	Text       string             `bson:"text,omitempty"`
	Image      string             `bson:"image,omitempty"`
	Seen       bool               `bson:"seen"`
	CreatedAt  time.Time          `bson:"created_at"`
}

func (m mongoMessage) model() models.Message {
	return models.Message{
		ID:         m.ID.Hex(),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		Seen:       m.Seen,
		CreatedAt:  m.CreatedAt,
	}
}

// MongoMessageRepo stores messages in a MongoDB collection.
type MongoMessageRepo struct {
	coll *mongo.Collection

	mu   sync.Mutex
	last time.Time
}

// NewMongoMessageRepo constructs a MongoMessageRepo over db.messages.
func NewMongoMessageRepo(db *mongo.Database) *MongoMessageRepo {
	return &MongoMessageRepo{coll: db.Collection("messages")}
}

// EnsureIndexes creates the conversation and unseen lookup indexes.
func (r *MongoMessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "seen", Value: 1}}},
	})
	return errors.Wrap(err, "mongoMessageRepo.EnsureIndexes")
}

// nextTimestamp keeps creation times non-decreasing at BSON millisecond precision.
func (r *MongoMessageRepo) nextTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now
	return now
}

func (r *MongoMessageRepo) Append(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	doc := mongoMessage{
		ID:         primitive.NewObjectID(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		Image:      msg.Image,
		CreatedAt:  r.nextTimestamp(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return models.Message{}, errors.Wrap(err, "mongoMessageRepo.Append.InsertOne")
	}
	return doc.model(), nil
}

func (r *MongoMessageRepo) Query(ctx context.Context, key models.ConversationKey, since time.Time) ([]models.Message, error) {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": key.A, "receiver_id": key.B},
			bson.M{"sender_id": key.B, "receiver_id": key.A},
		},
	}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gte": since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongoMessageRepo.Query.Find")
	}
	defer cursor.Close(ctx)

	msgs := []models.Message{}
	for cursor.Next(ctx) {
		var doc mongoMessage
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "mongoMessageRepo.Query.Decode")
		}
		msgs = append(msgs, doc.model())
	}
	return msgs, errors.Wrap(cursor.Err(), "mongoMessageRepo.Query.Cursor")
}

func (r *MongoMessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	var doc mongoMessage
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, errors.Wrap(err, "mongoMessageRepo.GetMessage.FindOne")
	}
	return doc.model(), nil
}

func (r *MongoMessageRepo) MarkSeen(ctx context.Context, messageIDs []string) (int64, error) {
	oids := make([]primitive.ObjectID, 0, len(messageIDs))
	for _, raw := range messageIDs {
		oid, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return 0, nil
	}

	res, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": oids}, "seen": false},
		bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return 0, errors.Wrap(err, "mongoMessageRepo.MarkSeen.UpdateMany")
	}
	return res.ModifiedCount, nil
}

func (r *MongoMessageRepo) UnseenCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiver_id": receiverID, "seen": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$sender_id", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "mongoMessageRepo.UnseenCounts.Aggregate")
	}
	defer cursor.Close(ctx)

	counts := map[string]int{}
	for cursor.Next(ctx) {
		var row struct {
			SenderID string `bson:"_id"`
			Count    int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, errors.Wrap(err, "mongoMessageRepo.UnseenCounts.Decode")
		}
		counts[row.SenderID] = row.Count
	}
	return counts, errors.Wrap(cursor.Err(), "mongoMessageRepo.UnseenCounts.Cursor")
}

type mongoUser struct {
	ID         primitive.ObjectID `bson:"_id"`
	FullName   string             `bson:"full_name"`
	Email      string             `bson:"email"`
	ProfilePic string             `bson:"profile_pic,omitempty"`
	Bio        string             `bson:"bio,omitempty"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// MongoUserRepo reads the users collection.
type MongoUserRepo struct {
	coll *mongo.Collection
}

func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection("users")}
}

func (r *MongoUserRepo) ListUsersExcept(ctx context.Context, userID string) ([]models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "full_name", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"password": 0})
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongoUserRepo.ListUsersExcept.Find")
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	for cursor.Next(ctx) {
		var doc mongoUser
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "mongoUserRepo.ListUsersExcept.Decode")
		}
		if doc.ID.Hex() == userID {
			continue
		}
		users = append(users, models.User{
			ID:         doc.ID.Hex(),
			FullName:   doc.FullName,
			Email:      doc.Email,
			ProfilePic: doc.ProfilePic,
			Bio:        doc.Bio,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return users, errors.Wrap(cursor.Err(), "mongoUserRepo.ListUsersExcept.Cursor")
}
