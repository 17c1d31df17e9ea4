// Package session provides Redis-backed storage for refresh tokens and
// cached third-party provider credentials.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trialsage/api/internal/store"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session: not found or expired")

// TokenData holds the data stored for each refresh token.
type TokenData struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProviderToken is a cached OAuth credential for an external editing
// provider (Google Docs, Microsoft Word Online).
type ProviderToken struct {
	Provider    string    `json:"provider"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "trialsage:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "trialsage:"}
}

func (s *RedisStore) refreshKey(tokenHash string) string {
	return s.prefix + "refresh:" + tokenHash
}

func (s *RedisStore) providerKey(userID, provider string) string {
	return s.prefix + "provider:" + userID + ":" + provider
}

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	data := TokenData{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		CreatedAt:   time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.refreshKey(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	jsonData, err := s.client.Get(ctx, s.refreshKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}

	if data.Role == "" {
		data.Role = "viewer"
	}

	return store.User{
		ID:          data.UserID,
		DisplayName: data.DisplayName,
		Role:        data.Role,
	}, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.refreshKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// SaveProviderToken caches an external provider credential for the user.
// The entry expires with the credential, so stale tokens never come back
// from the cache.
func (s *RedisStore) SaveProviderToken(ctx context.Context, userID string, token ProviderToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("provider token already expired")
	}

	jsonData, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal provider token: %w", err)
	}
	if err := s.client.Set(ctx, s.providerKey(userID, token.Provider), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save provider token: %w", err)
	}
	return nil
}

func (s *RedisStore) GetProviderToken(ctx context.Context, userID, provider string) (ProviderToken, error) {
	jsonData, err := s.client.Get(ctx, s.providerKey(userID, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return ProviderToken{}, ErrNotFound
	}
	if err != nil {
		return ProviderToken{}, fmt.Errorf("lookup provider token: %w", err)
	}

	var token ProviderToken
	if err := json.Unmarshal([]byte(jsonData), &token); err != nil {
		return ProviderToken{}, fmt.Errorf("unmarshal provider token: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
