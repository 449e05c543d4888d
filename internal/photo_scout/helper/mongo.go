package helper

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"photo-scout/pkg/config"
)

type Stores struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// ConnectMongo 连接并 ping，成功后为照片集合建索引
func ConnectMongo(ctx context.Context, cfg config.MongoConfig, photoCollection string) (*Stores, error) {
	clientOpts := options.Client().ApplyURI("mongodb://" + cfg.Host)
	if cfg.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}

	cli, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err = cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Stores{
		Client: cli,
		DB:     cli.Database(cfg.DBName),
	}
	if photoCollection != "" {
		if err := EnsurePhotoIndexes(ctx, s.DB, photoCollection); err != nil {
			_ = cli.Disconnect(ctx)
			return nil, err
		}
	}
	return s, nil
}

func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Disconnect(ctx)
}

// EnsurePhotoIndexes 照片集合常用查询索引（provider、likes、created）
func EnsurePhotoIndexes(ctx context.Context, db *mongo.Database, collName string) error {
	c := db.Collection(collName)
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "provider", Value: 1}}},
		{Keys: bson.D{{Key: "likes", Value: -1}}},
		{Keys: bson.D{{Key: "created", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure indexes on %s: %w", collName, err)
	}
	return nil
}
