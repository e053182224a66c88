package session

import (
	"context"
	"sync"
	"time"
)

// Repository 会话存储
type Repository interface {
	// Save 保存会话，覆盖该用户已有的会话
	Save(ctx context.Context, session *Session) error
	// Get 返回用户的会话，不存在时返回 nil, nil
	Get(ctx context.Context, userID int64) (*Session, error)
	Delete(ctx context.Context, userID int64) error
}

// Sweeper 需要主动清理过期会话的存储实现
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryRepository 进程内会话存储
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewMemoryRepository 创建进程内会话存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[int64]*Session)}
}

func (r *MemoryRepository) Save(_ context.Context, session *Session) error {
	copied := *session
	copied.Entries = append([]Entry(nil), session.Entries...)

	r.mu.Lock()
	r.sessions[session.UserID] = &copied
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userID int64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[userID]
	if !ok {
		return nil, nil
	}
	copied := *session
	copied.Entries = append([]Entry(nil), session.Entries...)
	return &copied, nil
}

func (r *MemoryRepository) Delete(_ context.Context, userID int64) error {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
	return nil
}

// DeleteExpired 删除所有已过期的会话
func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for userID, session := range r.sessions {
		if session.ExpiredAt(now) {
			delete(r.sessions, userID)
			removed++
		}
	}
	return removed, nil
}

// Len 当前会话数量
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
