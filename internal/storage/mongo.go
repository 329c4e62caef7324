package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"gitpulse/internal/domain"
	logx "gitpulse/pkg/logx"
)

const (
	mongoDefaultDatabase = "gitpulse"
	mongoReposColl       = "posted"
	mongoUsersColl       = "user_points"
)

type mongoStore struct {
	client *mongo.Client
	repos  *mongo.Collection
	users  *mongo.Collection
	log    logx.Logger
}

func openMongo(cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("storage.uri is required for mongo driver")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = mongoDefaultDatabase
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	st := &mongoStore{
		client: client,
		repos:  db.Collection(mongoReposColl),
		users:  db.Collection(mongoUsersColl),
		log:    log,
	}
	// Unique keys make upserts race-free across processes.
	_, err = st.repos.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "repo", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("mongo index create failed", logx.String("coll", mongoReposColl), logx.Err(err))
	}
	_, err = st.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("mongo index create failed", logx.String("coll", mongoUsersColl), logx.Err(err))
	}
	log.Debug("mongo store opened", logx.String("database", dbName))
	return st, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) LoadRepoState(ctx context.Context, repo string) (domain.RepoState, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return domain.RepoState{}, ErrEmptyKey
	}
	var rec repoRecord
	err := s.repos.FindOne(ctx, bson.D{{Key: "repo", Value: repo}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.EmptyRepoState(repo), nil
	}
	if err != nil {
		return domain.RepoState{}, fmt.Errorf("find repo state: %w", err)
	}
	return rec.state(), nil
}

func (s *mongoStore) SaveRepoState(ctx context.Context, st domain.RepoState) error {
	if strings.TrimSpace(st.Repo) == "" {
		return ErrEmptyKey
	}
	rec := newRepoRecord(st, time.Now())
	_, err := s.repos.UpdateOne(ctx,
		bson.D{{Key: "repo", Value: rec.Repo}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "prs", Value: nonNil(rec.PRs)},
			{Key: "issues", Value: nonNil(rec.Issues)},
			{Key: "updated_at", Value: rec.UpdatedAt},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert repo state: %w", err)
	}
	return nil
}

func (s *mongoStore) IncrementPoints(ctx context.Context, userID, username string) (domain.UserPoints, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserPoints{}, ErrEmptyKey
	}
	set := bson.D{{Key: "userId", Value: userID}}
	if username != "" {
		set = append(set, bson.E{Key: "user", Value: username})
	}
	var rec userRecord
	var err error
	// Two first increments can race on the upsert; the loser sees a duplicate
	// key and retries as a plain update.
	for attempt := 0; attempt < 2; attempt++ {
		err = s.users.FindOneAndUpdate(ctx,
			bson.D{{Key: "userId", Value: userID}},
			bson.D{
				{Key: "$inc", Value: bson.D{{Key: "points", Value: 1}}},
				{Key: "$set", Value: set},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&rec)
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return domain.UserPoints{}, fmt.Errorf("increment points: %w", err)
	}
	return rec.points(), nil
}

func (s *mongoStore) GetPoints(ctx context.Context, userID string) (domain.UserPoints, bool, error) {
	var rec userRecord
	err := s.users.FindOne(ctx, bson.D{{Key: "userId", Value: userID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.UserPoints{}, false, nil
	}
	if err != nil {
		return domain.UserPoints{}, false, fmt.Errorf("find points: %w", err)
	}
	return rec.points(), true, nil
}
