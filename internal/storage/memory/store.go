package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"tempmail/mailbot/internal/domain"
)

// Store 使用内存保存用户与邮箱记录，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[int64]*domain.Mailbox // mailboxID -> mailbox
	byUser    map[int64][]int64         // userID -> mailboxIDs（按创建顺序递增）
	byAddress map[string]int64          // 小写地址 -> mailboxID
	users     map[int64]*domain.User    // telegramID -> user
	nextID    int64

	now func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[int64]*domain.Mailbox),
		byUser:    make(map[int64][]int64),
		byAddress: make(map[string]int64),
		users:     make(map[int64]*domain.User),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ========== Mailbox Repository ==========

// InsertActiveMailbox 插入活跃邮箱，ID 单调递增。
func (s *Store) InsertActiveMailbox(_ context.Context, userID int64, address string) (*domain.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(address)
	if _, exists := s.byAddress[key]; exists {
		return nil, domain.ErrAddressTaken
	}

	s.nextID++
	mailbox := &domain.Mailbox{
		ID:        s.nextID,
		UserID:    userID,
		Email:     address,
		IsActive:  true,
		CreatedAt: s.now(),
	}

	s.mailboxes[mailbox.ID] = mailbox
	s.byUser[userID] = append(s.byUser[userID], mailbox.ID)
	s.byAddress[key] = mailbox.ID

	copied := *mailbox
	return &copied, nil
}

// MarkMailboxDeleted 标记邮箱为已删除，重复标记是幂等的。
func (s *Store) MarkMailboxDeleted(_ context.Context, mailboxID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return domain.ErrMailboxNotFound
	}
	if !mailbox.IsActive {
		return nil
	}

	now := s.now()
	mailbox.IsActive = false
	mailbox.RemovedAt = &now
	return nil
}

// CountActiveMailboxes 统计用户的活跃邮箱数量。
func (s *Store) CountActiveMailboxes(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		if s.mailboxes[id].IsActive {
			count++
		}
	}
	return count, nil
}

// OldestActiveMailbox 返回 ID 最小的活跃邮箱。
func (s *Store) OldestActiveMailbox(_ context.Context, userID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.byUser[userID] {
		if mailbox := s.mailboxes[id]; mailbox.IsActive {
			copied := *mailbox
			return &copied, nil
		}
	}
	return nil, nil
}

// RecentMailboxes 按 ID 倒序返回最近 n 条记录。
func (s *Store) RecentMailboxes(_ context.Context, userID int64, n int) ([]domain.Mailbox, error) {
	return s.collect(userID, n, false), nil
}

// ListActiveMailboxes 按 ID 倒序返回最近 n 条活跃记录。
func (s *Store) ListActiveMailboxes(_ context.Context, userID int64, n int) ([]domain.Mailbox, error) {
	return s.collect(userID, n, true), nil
}

// FindActiveMailbox 查找属于该用户的活跃邮箱。
func (s *Store) FindActiveMailbox(_ context.Context, userID, mailboxID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok || mailbox.UserID != userID || !mailbox.IsActive {
		return nil, nil
	}
	copied := *mailbox
	return &copied, nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(_ context.Context, mailboxID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return nil, domain.ErrMailboxNotFound
	}
	copied := *mailbox
	return &copied, nil
}

// collect 倒序收集用户邮箱快照。
func (s *Store) collect(userID int64, n int, activeOnly bool) []domain.Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	result := make([]domain.Mailbox, 0, min(n, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(result) < n; i-- {
		mailbox := s.mailboxes[ids[i]]
		if activeOnly && !mailbox.IsActive {
			continue
		}
		result = append(result, *mailbox)
	}
	return result
}

// ========== User Repository ==========

// EnsureUser 首次接触时注册用户，显示名变化时更新。
func (s *Store) EnsureUser(_ context.Context, ref domain.UserRef) (*domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[ref.ID]; ok {
		if ref.Username != "" && user.Username != ref.Username {
			user.Username = ref.Username
		}
		copied := *user
		return &copied, false, nil
	}

	user := &domain.User{
		TelegramID: ref.ID,
		Username:   ref.Username,
		CreatedAt:  s.now(),
	}
	s.users[ref.ID] = user

	copied := *user
	return &copied, true, nil
}

// GetUser 根据 ID 获取用户。
func (s *Store) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// ========== 工具方法 ==========

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终健康
func (s *Store) Health(context.Context) error {
	return nil
}
