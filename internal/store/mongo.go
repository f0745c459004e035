package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

const (
	usersCollection    = "users"
	turnsCollection    = "chat_turns"
	moodLogsCollection = "mood_logs"
)

// MongoStore implements Repository on a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	turns  *mongo.Collection
	moods  *mongo.Collection
	now    func() time.Time
}

// OpenMongo connects to uri, verifies the connection and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client: client,
		users:  db.Collection(usersCollection),
		turns:  db.Collection(turnsCollection),
		moods:  db.Collection(moodLogsCollection),
		now:    time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	byRecency := mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}}}
	if _, err := s.turns.Indexes().CreateOne(ctx, byRecency); err != nil {
		return fmt.Errorf("create chat_turns index: %w", err)
	}
	if _, err := s.moods.Indexes().CreateOne(ctx, byRecency); err != nil {
		return fmt.Errorf("create mood_logs index: %w", err)
	}
	return nil
}

func (s *MongoStore) GetOrCreateUser(ctx context.Context, sessionID string) (*chat.User, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	fresh := chat.NewUser(sessionID, s.now())
	update := bson.M{"$setOnInsert": bson.M{
		"name":               fresh.Name,
		"email":              fresh.Email,
		"created_at":         fresh.CreatedAt,
		"last_active":        nil,
		"days_active":        0,
		"sessions_completed": 0,
		"progress_score":     0,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var u chat.User
	if err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": sessionID}, update, opts).Decode(&u); err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) AppendTurn(ctx context.Context, turn *chat.Turn) error {
	if turn == nil || turn.SessionID == "" {
		return ErrSessionRequired
	}
	if turn.ID == "" {
		turn.ID = chat.NewID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}
	_, err := s.turns.InsertOne(ctx, turn)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *MongoStore) AppendMoodLog(ctx context.Context, log *chat.MoodLog) error {
	if log == nil || log.SessionID == "" {
		return ErrSessionRequired
	}
	if log.ID == "" {
		log.ID = chat.NewID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	_, err := s.moods.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *MongoStore) History(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit, chat.HistoryLimit)))

	cursor, err := s.turns.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}

	var turns []chat.Turn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

func (s *MongoStore) RecentMoodLogs(ctx context.Context, sessionID string, limit int) ([]chat.MoodLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit, chat.DefaultMoodLogLimit)))

	cursor, err := s.moods.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}

	var logs []chat.MoodLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *MongoStore) TouchActivity(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	filter := bson.M{
		"_id": sessionID,
		"$or": bson.A{
			bson.M{"last_active": nil},
			bson.M{"last_active": bson.M{"$lt": dayStart}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"days_active": 1},
		"$set": bson.M{"last_active": now},
	}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	count, err := s.users.CountDocuments(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *MongoStore) Profile(ctx context.Context, sessionID string) (*chat.Profile, error) {
	var u chat.User
	if err := s.users.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	moods, err := s.moods.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	return chat.BuildProfile(&u, int(moods)), nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
