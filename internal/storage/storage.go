package storage

import (
	"context"

	"tempmail/mailbot/internal/domain"
)

// MailboxRepository 定义邮箱记录的存取操作。
//
// 每个方法在单行或单个聚合上保持原子性；注册中心每次操作最多只发起一次写入。
type MailboxRepository interface {
	// InsertActiveMailbox 插入一条活跃邮箱记录，地址重复时返回 domain.ErrAddressTaken
	InsertActiveMailbox(ctx context.Context, userID int64, address string) (*domain.Mailbox, error)
	// MarkMailboxDeleted 将邮箱标记为已删除，不存在时返回 domain.ErrMailboxNotFound
	MarkMailboxDeleted(ctx context.Context, mailboxID int64) error
	CountActiveMailboxes(ctx context.Context, userID int64) (int, error)
	// OldestActiveMailbox 返回 ID 最小的活跃邮箱，没有时返回 nil, nil
	OldestActiveMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error)
	// RecentMailboxes 按创建顺序倒序返回最近 n 条记录（含已删除）
	RecentMailboxes(ctx context.Context, userID int64, n int) ([]domain.Mailbox, error)
	// ListActiveMailboxes 按创建顺序倒序返回最近 n 条活跃记录
	ListActiveMailboxes(ctx context.Context, userID int64, n int) ([]domain.Mailbox, error)
	// FindActiveMailbox 返回属于该用户的活跃邮箱，没有时返回 nil, nil
	FindActiveMailbox(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error)
	// GetMailbox 按 ID 获取任意状态的邮箱，不存在时返回 domain.ErrMailboxNotFound
	GetMailbox(ctx context.Context, mailboxID int64) (*domain.Mailbox, error)
}

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	// EnsureUser 不存在则创建，存在且显示名变化时更新显示名；created 表示是否新建
	EnsureUser(ctx context.Context, ref domain.UserRef) (user *domain.User, created bool, err error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	UserRepository

	// 工具方法
	Close() error
	Health(ctx context.Context) error
}
