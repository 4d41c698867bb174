package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"crt-reports-server/config"
	"crt-reports-server/models"
)

const (
	sessionPrefix      = "session:" // String prefix: session:{token} -> session JSON
	userSessionsPrefix = "user:"    // Set prefix: user:{username}:sessions -> tokens
	settingsKey        = "settings" // String: dashboard settings JSON
)

// ErrSessionNotFound is returned for unknown or expired tokens.
var ErrSessionNotFound = errors.New("session not found")

// Store keeps sessions and dashboard settings in Redis.
type Store struct {
	Client *redis.Client
	log    *zap.Logger
}

// NewStore creates a Store on an existing client.
func NewStore(client *redis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Client: client, log: log}
}

func getSessionKey(token string) string {
	return sessionPrefix + token
}

func getUserSessionsKey(username string) string {
	return userSessionsPrefix + username + ":sessions"
}

// --- Session Operations ---

// SaveSession stores a session under its token. A ttl of zero never expires.
func (s *Store) SaveSession(ctx context.Context, sess models.Session, ttl time.Duration) error {
	if sess.Token == "" || sess.Username == "" {
		return errors.New("session token and username cannot be empty")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := s.Client.TxPipeline()
	pipe.Set(ctx, getSessionKey(sess.Token), data, ttl)
	pipe.SAdd(ctx, getUserSessionsKey(sess.Username), sess.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("save session failed", zap.String("user", sess.Username), zap.Error(err))
		return fmt.Errorf("failed to save session to Redis: %w", err)
	}
	return nil
}

// GetSession loads the session for a token.
func (s *Store) GetSession(ctx context.Context, token string) (*models.Session, error) {
	data, err := s.Client.Get(ctx, getSessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes a session. Deleting an unknown token is ErrSessionNotFound.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	sess, err := s.GetSession(ctx, token)
	if err != nil {
		return err
	}
	pipe := s.Client.TxPipeline()
	pipe.Del(ctx, getSessionKey(token))
	pipe.SRem(ctx, getUserSessionsKey(sess.Username), token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

// UserSessions lists the live tokens of a user. Tokens whose session expired
// are pruned from the index.
func (s *Store) UserSessions(ctx context.Context, username string) ([]string, error) {
	key := getUserSessionsKey(username)
	tokens, err := s.Client.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list sessions for %s: %w", username, err)
	}
	live := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		n, err := s.Client.Exists(ctx, getSessionKey(tok)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check session: %w", err)
		}
		if n == 0 {
			s.Client.SRem(ctx, key, tok)
			continue
		}
		live = append(live, tok)
	}
	return live, nil
}

// DeleteUserSessions ends every live session of a user and returns how many
// were removed.
func (s *Store) DeleteUserSessions(ctx context.Context, username string) (int, error) {
	tokens, err := s.UserSessions(ctx, username)
	if err != nil {
		return 0, err
	}
	pipe := s.Client.TxPipeline()
	for _, tok := range tokens {
		pipe.Del(ctx, getSessionKey(tok))
	}
	pipe.Del(ctx, getUserSessionsKey(username))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete sessions of %s: %w", username, err)
	}
	return len(tokens), nil
}

// --- Settings Operations ---

// GetSettings returns the saved settings, or the defaults when none were saved.
func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	data, err := s.Client.Get(ctx, settingsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.DefaultSettings(), nil
		}
		return models.Settings{}, fmt.Errorf("failed to get settings from Redis: %w", err)
	}
	var st models.Settings
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("stored settings are unreadable, using defaults", zap.Error(err))
		return models.DefaultSettings(), nil
	}
	return st, nil
}

// SaveSettings replaces the settings.
func (s *Store) SaveSettings(ctx context.Context, st models.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.Client.Set(ctx, settingsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save settings to Redis: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// --- Utility ---

// InitializeRedisClient creates a client and checks the connection.
func InitializeRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}
