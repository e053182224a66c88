package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tempmail/mailbot/internal/session"
)

// SessionRepository 将选择会话保存在 Redis 中，过期由键的 TTL 负责。
type SessionRepository struct {
	client *Client
	prefix string
}

var _ session.Repository = (*SessionRepository)(nil)

// NewSessionRepository 创建 Redis 会话存储
func NewSessionRepository(client *Client) *SessionRepository {
	return &SessionRepository{client: client, prefix: "mailbot:session:"}
}

func (r *SessionRepository) key(userID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, userID)
}

// Save 保存会话，TTL 与会话过期时间一致
func (r *SessionRepository) Save(ctx context.Context, s *session.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, s.UserID)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.rdb.Set(ctx, r.key(s.UserID), data, ttl).Err()
}

// Get 读取会话，不存在时返回 nil, nil
func (r *SessionRepository) Get(ctx context.Context, userID int64) (*session.Session, error) {
	data, err := r.client.rdb.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Delete 删除会话
func (r *SessionRepository) Delete(ctx context.Context, userID int64) error {
	return r.client.rdb.Del(ctx, r.key(userID)).Err()
}
