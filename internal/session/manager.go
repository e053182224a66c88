package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/lock"
	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/monitoring"
)

// MailboxSource 会话依赖的邮箱操作
type MailboxSource interface {
	ActiveMailboxes(ctx context.Context, userID int64) ([]domain.Mailbox, error)
	Delete(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error)
}

// Manager 管理选择会话的状态迁移
//
//	Open ──有效回复且删除完成──▶ Resolved
//	Open ──cancel──────────────▶ Resolved
//	Open ──超时────────────────▶ Expired
//
// 无效回复保持 Open。
type Manager struct {
	repo    Repository
	source  MailboxSource
	locker  lock.Locker
	ttl     time.Duration
	metrics *monitoring.Metrics
	log     *zap.Logger

	now func() time.Time
}

// NewManager 创建会话管理器
func NewManager(repo Repository, source MailboxSource, ttl time.Duration, log *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{
		repo:   repo,
		source: source,
		// 与注册中心的用户锁相互独立，删除时会再获取注册中心的锁
		locker: lock.NewLocal(),
		ttl:    ttl,
		log:    logger.OrNop(log).Named("session"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetMetrics 设置监控指标
func (m *Manager) SetMetrics(metrics *monitoring.Metrics) {
	m.metrics = metrics
}

// SetLocker 替换会话锁，多实例部署时使用分布式锁
func (m *Manager) SetLocker(locker lock.Locker) {
	m.locker = locker
}

// TTL 会话有效期
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Open 为用户打开新的选择会话，候选项为当前活跃邮箱（最新的在前）。
//
// 已有会话被直接覆盖；没有活跃邮箱时返回 domain.ErrNoActiveMailboxes。
func (m *Manager) Open(ctx context.Context, userID int64) (*Session, error) {
	unlock, err := m.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	mailboxes, err := m.source.ActiveMailboxes(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(mailboxes) == 0 {
		if err := m.repo.Delete(ctx, userID); err != nil {
			return nil, storageFailure(err)
		}
		return nil, domain.ErrNoActiveMailboxes
	}

	now := m.now()
	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Entries:   make([]Entry, 0, len(mailboxes)),
		State:     StateOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	for i, mailbox := range mailboxes {
		session.Entries = append(session.Entries, Entry{
			Ordinal:   i + 1,
			MailboxID: mailbox.ID,
			Address:   mailbox.Email,
		})
	}

	if err := m.repo.Save(ctx, session); err != nil {
		return nil, storageFailure(err)
	}

	m.metrics.RecordSessionOpened()
	m.log.Debug("selection session opened",
		zap.Int64("user_id", userID),
		zap.String("session_id", session.ID),
		zap.Int("entries", len(session.Entries)),
	)
	return session, nil
}

// Select 处理用户的选择回复并删除对应邮箱。
//
// 无效回复返回 domain.ErrInvalidSelection 且会话保持打开；
// 会话不存在或已过期返回 domain.ErrSessionExpired。
// 远程服务或存储暂时不可用时会话保持打开，用户可以重试。
func (m *Manager) Select(ctx context.Context, userID int64, input string) (*domain.Mailbox, error) {
	unlock, err := m.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := m.openSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry, ok := session.Match(input)
	if !ok {
		return nil, domain.ErrInvalidSelection
	}

	mailbox, err := m.source.Delete(ctx, userID, entry.MailboxID)
	if err != nil {
		if domain.IsRejection(err) {
			// 候选项已失效，会话结束
			m.resolve(ctx, session, "resolved")
		}
		return nil, err
	}

	m.resolve(ctx, session, "resolved")
	m.log.Info("mailbox deleted by selection",
		zap.Int64("user_id", userID),
		zap.String("session_id", session.ID),
		zap.Int("ordinal", entry.Ordinal),
		zap.Int64("mailbox_id", mailbox.ID),
	)
	return mailbox, nil
}

// Cancel 结束用户的会话；返回是否存在打开的会话。
func (m *Manager) Cancel(ctx context.Context, userID int64) (bool, error) {
	unlock, err := m.locker.Lock(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	session, err := m.openSession(ctx, userID)
	if errors.Is(err, domain.ErrSessionExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.resolve(ctx, session, "cancelled")
	return true, nil
}

// Current 返回用户当前打开的会话，没有时返回 nil, nil。
func (m *Manager) Current(ctx context.Context, userID int64) (*Session, error) {
	session, err := m.repo.Get(ctx, userID)
	if err != nil {
		return nil, storageFailure(err)
	}
	if session == nil || session.State != StateOpen || session.ExpiredAt(m.now()) {
		return nil, nil
	}
	return session, nil
}

// Sweep 清理过期会话；依赖存储自身过期机制的实现直接返回 0。
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sweeper, ok := m.repo.(Sweeper)
	if !ok {
		return 0, nil
	}

	removed, err := sweeper.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, storageFailure(err)
	}
	for i := 0; i < removed; i++ {
		m.metrics.RecordSessionClosed("expired")
	}
	if removed > 0 {
		m.log.Debug("expired sessions swept", zap.Int("count", removed))
	}
	return removed, nil
}

// RunSweeper 按固定间隔清理过期会话，直到 ctx 结束。
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Warn("failed to sweep sessions", zap.Error(err))
			}
		}
	}
}

// openSession 读取打开且未过期的会话，过期时顺带清理。
func (m *Manager) openSession(ctx context.Context, userID int64) (*Session, error) {
	session, err := m.repo.Get(ctx, userID)
	if err != nil {
		return nil, storageFailure(err)
	}
	if session == nil || session.State != StateOpen {
		return nil, domain.ErrSessionExpired
	}
	if session.ExpiredAt(m.now()) {
		session.State = StateExpired
		if err := m.repo.Delete(ctx, userID); err != nil {
			m.log.Warn("failed to drop expired session", zap.Error(err))
		}
		m.metrics.RecordSessionClosed("expired")
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

// resolve 结束会话
func (m *Manager) resolve(ctx context.Context, session *Session, outcome string) {
	session.State = StateResolved
	if err := m.repo.Delete(ctx, session.UserID); err != nil {
		m.log.Warn("failed to drop resolved session",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	m.metrics.RecordSessionClosed(outcome)
}

func storageFailure(err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: session store: %w", domain.ErrStorageUnavailable, err)
}
