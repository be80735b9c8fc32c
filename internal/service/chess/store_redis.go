package chess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-Chess-bot/internal/domain"
)

const defaultSnapshotTTL = 24 * time.Hour

// SnapshotStore persists live sessions so they survive a restart.
// Load returns nil, nil when nothing is stored.
type SnapshotStore interface {
	Save(ctx context.Context, snap *domain.SessionSnapshot) error
	Load(ctx context.Context, conversationID string) (*domain.SessionSnapshot, error)
	Delete(ctx context.Context, conversationID string) error
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(conversationID string) string {
	return "chess:sessions:" + hashString(strings.TrimSpace(conversationID))
}

func hashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (s *RedisStore) Save(ctx context.Context, snap *domain.SessionSnapshot) error {
	if snap == nil {
		return fmt.Errorf("nil session snapshot")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(snap.ConversationID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*domain.SessionSnapshot, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session snapshot: %w", err)
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.rdb.Del(ctx, sessionKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("delete session snapshot: %w", err)
	}
	return nil
}
