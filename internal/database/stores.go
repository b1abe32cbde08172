package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cdahabbo/rolesync/internal/config"
	"github.com/cdahabbo/rolesync/internal/jsonstore"
	"github.com/cdahabbo/rolesync/internal/profiles"
	"github.com/cdahabbo/rolesync/internal/sessions"
	"github.com/cdahabbo/rolesync/pkg/logger"
)

// Closer releases a backend opened by this package.
type Closer func(ctx context.Context) error

func noopCloser(context.Context) error { return nil }

// connectAttempts bounds the startup retry against MongoDB.
const connectAttempts = 5

// ConnectMongoWithRetry retries ConnectMongo with exponential backoff to
// tolerate startup races with the database container.
func ConnectMongoWithRetry(ctx context.Context, cfg config.MongoDBConfig) (*mongo.Client, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := ConnectMongo(ctx, cfg)
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, connectAttempts, err)
		if attempt == connectAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("mongo unavailable after %d attempts: %w", connectAttempts, lastErr)
}

// OpenProfileRepository selects the profile backend named by PROFILE_STORE.
// The file backend is also returned as the second value so callers can read
// the channel configuration stored next to the profiles; it is nil for mongo.
func OpenProfileRepository(ctx context.Context, cfg *config.Config) (profiles.Repository, *profiles.FileRepository, Closer, error) {
	if cfg.Data.ProfileStore != "mongo" {
		repo := profiles.NewFileRepository(jsonstore.Open(cfg.Data.ProfilesFile))
		return repo, repo, noopCloser, nil
	}
	client, err := ConnectMongoWithRetry(ctx, cfg.MongoDB)
	if err != nil {
		return nil, nil, nil, err
	}
	repo, err := profiles.NewMongoRepository(ctx, Profiles(client, cfg.MongoDB))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, nil, fmt.Errorf("mongo profiles index: %w", err)
	}
	logger.Infof("using MongoDB for verified profiles (db=%s)", cfg.MongoDB.Database)
	return repo, nil, client.Disconnect, nil
}

// NewRedisClient returns nil when REDIS_HOST is unset.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Host + ":" + cfg.Port, Password: cfg.Password, DB: cfg.DB})
}

// OpenSessionRepository selects the verification session backend named by
// SESSION_STORE. rdb is required for the redis backend.
func OpenSessionRepository(cfg *config.Config, rdb *redis.Client) (sessions.Repository, error) {
	if cfg.Data.SessionStore != "redis" {
		return sessions.NewFileRepository(jsonstore.Open(cfg.Data.SessionsFile)), nil
	}
	if rdb == nil {
		return nil, fmt.Errorf("SESSION_STORE=redis but redis is not configured")
	}
	logger.Infof("using Redis for verification sessions")
	return sessions.NewRedisRepository(rdb, "verify:", cfg.Verify.CodeTTL), nil
}
