package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/events"
	"tempmail/mailbot/internal/lock"
	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/monitoring"
	"tempmail/mailbot/internal/provider"
	"tempmail/mailbot/internal/storage"
)

// 淘汰原因，用于指标标签
const (
	reasonCapacity = "capacity"
	reasonUser     = "user"
)

// maxSelectionEntries 删除选择列表的最大条数，与上限配置无关
const maxSelectionEntries = 100

// RegistryConfig 注册中心配置
type RegistryConfig struct {
	Limit              int           // 每个用户的活跃邮箱上限
	HistoryLimit       int           // 历史列表最大条数
	ProviderTimeout    time.Duration // 单次远程调用超时
	MarkDeletedRetries int           // 远程释放成功后标记删除的最大尝试次数
	RetryBackoff       time.Duration // 重试间隔，按尝试次数线性递增
}

// MailboxRegistry 管理用户临时邮箱的完整生命周期。
//
// 同一用户的变更操作在用户锁内串行执行；远程服务与本地存储的状态在每个操作结束时保持一致，
// 唯一允许的短暂不一致是远程调用与随后的存储写入之间。
type MailboxRegistry struct {
	store     storage.Store
	provider  provider.Client
	locker    lock.Locker
	publisher events.Publisher
	metrics   *monitoring.Metrics
	cfg       RegistryConfig
	log       *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewMailboxRegistry 创建邮箱注册中心。
func NewMailboxRegistry(store storage.Store, client provider.Client, cfg RegistryConfig, log *zap.Logger) *MailboxRegistry {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 5 * time.Second
	}
	if cfg.MarkDeletedRetries <= 0 {
		cfg.MarkDeletedRetries = 1
	}

	return &MailboxRegistry{
		store:     store,
		provider:  client,
		locker:    lock.NewLocal(),
		publisher: events.Nop{},
		cfg:       cfg,
		log:       logger.OrNop(log).Named("registry"),
		now: func() time.Time {
			return time.Now().UTC()
		},
		sleep: time.Sleep,
	}
}

// SetLocker 替换用户锁实现（多实例部署使用 Redis 锁）
func (r *MailboxRegistry) SetLocker(locker lock.Locker) {
	r.locker = locker
}

// SetPublisher 设置生命周期事件发布者
func (r *MailboxRegistry) SetPublisher(publisher events.Publisher) {
	r.publisher = publisher
}

// SetMetrics 设置监控指标
func (r *MailboxRegistry) SetMetrics(metrics *monitoring.Metrics) {
	r.metrics = metrics
}

// Limit 返回每个用户的活跃邮箱上限
func (r *MailboxRegistry) Limit() int {
	return r.cfg.Limit
}

// Create 为用户创建新的临时邮箱。
//
// 达到上限时先淘汰最早的一个活跃邮箱；远程分配失败时不写入任何记录，
// 但已完成的淘汰不会回滚。
func (r *MailboxRegistry) Create(ctx context.Context, ref domain.UserRef) (*domain.CreateResult, error) {
	unlock, err := r.locker.Lock(ctx, ref.ID)
	if err != nil {
		return nil, r.storageFailure("lock", err)
	}
	defer unlock()

	if _, created, err := r.store.EnsureUser(ctx, ref); err != nil {
		return nil, r.storageFailure("ensure_user", err)
	} else if created {
		r.metrics.RecordUserRegistered()
		r.log.Info("user registered", zap.Int64("user_id", ref.ID))
	}

	count, err := r.store.CountActiveMailboxes(ctx, ref.ID)
	if err != nil {
		return nil, r.storageFailure("count_active", err)
	}

	var evicted *domain.Mailbox
	if count >= r.cfg.Limit {
		oldest, err := r.store.OldestActiveMailbox(ctx, ref.ID)
		if err != nil {
			return nil, r.storageFailure("oldest_active", err)
		}
		if oldest != nil {
			if err := r.evict(ctx, oldest, reasonCapacity); err != nil {
				return nil, err
			}
			oldest.IsActive = false
			evicted = oldest
			count--
			r.log.Info("mailbox limit reached, evicted oldest",
				zap.Int64("user_id", ref.ID),
				zap.Int64("mailbox_id", oldest.ID),
				zap.String("address", oldest.Email),
			)
		}
	}

	address, err := r.provision(ctx)
	if err != nil {
		r.log.Error("failed to provision address",
			zap.Int64("user_id", ref.ID),
			zap.Bool("evicted", evicted != nil),
			zap.Error(err),
		)
		return nil, err
	}

	mailbox, err := r.store.InsertActiveMailbox(ctx, ref.ID, address)
	if err != nil {
		// 地址冲突时远程路由可能属于已有邮箱，不能释放
		if !errors.Is(err, domain.ErrAddressTaken) {
			r.compensate(ctx, address)
		}
		r.log.Error("failed to record mailbox",
			zap.Int64("user_id", ref.ID),
			zap.String("address", address),
			zap.Error(err),
		)
		return nil, r.storageFailure("insert_active", err)
	}

	r.metrics.RecordMailboxCreated()
	r.publish(ctx, events.TypeMailboxCreated, mailbox)
	r.log.Info("mailbox created",
		zap.Int64("user_id", ref.ID),
		zap.Int64("mailbox_id", mailbox.ID),
		zap.String("address", mailbox.Email),
	)

	return &domain.CreateResult{
		Mailbox:     mailbox,
		Evicted:     evicted,
		ActiveCount: count + 1,
		Limit:       r.cfg.Limit,
	}, nil
}

// Evict 释放邮箱的远程路由并标记为已删除。
//
// 远程不存在路由视为成功；已删除的邮箱直接返回成功。
func (r *MailboxRegistry) Evict(ctx context.Context, mailboxID int64) error {
	mailbox, err := r.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return domain.ErrMailboxNotFound
		}
		return r.storageFailure("get_mailbox", err)
	}

	unlock, err := r.locker.Lock(ctx, mailbox.UserID)
	if err != nil {
		return r.storageFailure("lock", err)
	}
	defer unlock()

	// 加锁后重新读取，避免与并发删除重复释放
	mailbox, err = r.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return r.storageFailure("get_mailbox", err)
	}
	if !mailbox.IsActive {
		return nil
	}

	return r.evict(ctx, mailbox, reasonUser)
}

// List 返回用户最近的邮箱记录（含已删除），按创建顺序倒序。
func (r *MailboxRegistry) List(ctx context.Context, userID int64, limit int) ([]domain.Mailbox, error) {
	if limit <= 0 || limit > r.cfg.HistoryLimit {
		limit = r.cfg.HistoryLimit
	}

	mailboxes, err := r.store.RecentMailboxes(ctx, userID, limit)
	if err != nil {
		return nil, r.storageFailure("recent", err)
	}
	return mailboxes, nil
}

// ActiveMailboxes 返回用户当前的活跃邮箱，按创建顺序倒序，最多 maxSelectionEntries 条。
func (r *MailboxRegistry) ActiveMailboxes(ctx context.Context, userID int64) ([]domain.Mailbox, error) {
	mailboxes, err := r.store.ListActiveMailboxes(ctx, userID, min(r.cfg.Limit, maxSelectionEntries))
	if err != nil {
		return nil, r.storageFailure("list_active", err)
	}
	return mailboxes, nil
}

// Delete 删除用户自己的活跃邮箱。
//
// 邮箱不存在与不属于该用户对调用方返回同一个错误，只在日志中区分。
func (r *MailboxRegistry) Delete(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error) {
	unlock, err := r.locker.Lock(ctx, userID)
	if err != nil {
		return nil, r.storageFailure("lock", err)
	}
	defer unlock()

	mailbox, err := r.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			r.log.Info("delete rejected: mailbox not found",
				zap.Int64("user_id", userID),
				zap.Int64("mailbox_id", mailboxID),
			)
			return nil, domain.ErrMailboxNotFound
		}
		return nil, r.storageFailure("get_mailbox", err)
	}

	if mailbox.UserID != userID {
		r.log.Info("delete rejected: mailbox not owned",
			zap.Int64("user_id", userID),
			zap.Int64("owner_id", mailbox.UserID),
			zap.Int64("mailbox_id", mailboxID),
		)
		return nil, domain.ErrMailboxNotFound
	}

	if !mailbox.IsActive {
		return nil, domain.ErrMailboxAlreadyDeleted
	}

	if err := r.evict(ctx, mailbox, reasonUser); err != nil {
		return nil, err
	}

	mailbox.IsActive = false
	r.log.Info("mailbox deleted",
		zap.Int64("user_id", userID),
		zap.Int64("mailbox_id", mailbox.ID),
		zap.String("address", mailbox.Email),
	)
	return mailbox, nil
}

// evict 在用户锁内执行：先释放远程路由，再标记删除。
func (r *MailboxRegistry) evict(ctx context.Context, mailbox *domain.Mailbox, reason string) error {
	if err := r.release(ctx, mailbox.Email); err != nil {
		if !errors.Is(err, domain.ErrAddressNotFound) {
			r.log.Error("failed to release address",
				zap.Int64("mailbox_id", mailbox.ID),
				zap.String("address", mailbox.Email),
				zap.Error(err),
			)
			return err
		}
		r.log.Warn("address route already gone",
			zap.Int64("mailbox_id", mailbox.ID),
			zap.String("address", mailbox.Email),
		)
	}

	if err := r.markDeleted(ctx, mailbox.ID); err != nil {
		r.log.Error("route released but mailbox still active",
			zap.Int64("mailbox_id", mailbox.ID),
			zap.String("address", mailbox.Email),
			zap.Error(err),
		)
		return err
	}

	r.metrics.RecordMailboxEvicted(reason)
	eventType := events.TypeMailboxDeleted
	if reason == reasonCapacity {
		eventType = events.TypeMailboxEvicted
	}
	r.publish(ctx, eventType, mailbox)
	return nil
}

// markDeleted 带有限重试的标记删除。
//
// 远程路由已释放，调用方取消也要尽量完成本地写入。
func (r *MailboxRegistry) markDeleted(ctx context.Context, mailboxID int64) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= r.cfg.MarkDeletedRetries; attempt++ {
		if err = r.store.MarkMailboxDeleted(ctx, mailboxID); err == nil {
			return nil
		}
		if attempt < r.cfg.MarkDeletedRetries {
			r.metrics.RecordMarkDeleteRetry()
			r.log.Warn("mark deleted failed, retrying",
				zap.Int64("mailbox_id", mailboxID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			r.sleep(r.cfg.RetryBackoff * time.Duration(attempt))
		}
	}
	return r.storageFailure("mark_deleted", err)
}

// provision 带超时的远程地址分配。
func (r *MailboxRegistry) provision(ctx context.Context) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	address, err := r.provider.Provision(callCtx)
	r.metrics.ObserveProviderCall("provision", time.Since(start), err)
	if err != nil {
		return "", providerFailure(err)
	}
	if address == "" {
		return "", fmt.Errorf("%w: provider returned empty address", domain.ErrProviderUnavailable)
	}
	return address, nil
}

// release 带超时的远程路由释放。
func (r *MailboxRegistry) release(ctx context.Context, address string) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	err := r.provider.Release(callCtx, address)
	if errors.Is(err, domain.ErrAddressNotFound) {
		r.metrics.ObserveProviderCall("release", time.Since(start), nil)
		return err
	}
	r.metrics.ObserveProviderCall("release", time.Since(start), err)
	if err != nil {
		return providerFailure(err)
	}
	return nil
}

// compensate 写入失败后尽力释放刚分配的地址。
func (r *MailboxRegistry) compensate(ctx context.Context, address string) {
	if err := r.release(context.WithoutCancel(ctx), address); err != nil && !errors.Is(err, domain.ErrAddressNotFound) {
		r.log.Error("failed to release orphaned address",
			zap.String("address", address),
			zap.Error(err),
		)
		return
	}
	r.log.Warn("released orphaned address", zap.String("address", address))
}

// publish 发布事件，失败只记录日志
func (r *MailboxRegistry) publish(ctx context.Context, eventType events.Type, mailbox *domain.Mailbox) {
	event := events.Event{
		Type:       eventType,
		UserID:     mailbox.UserID,
		MailboxID:  mailbox.ID,
		Address:    mailbox.Email,
		OccurredAt: r.now(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log.Warn("failed to publish event",
			zap.String("type", string(eventType)),
			zap.Int64("mailbox_id", mailbox.ID),
			zap.Error(err),
		)
	}
}

// storageFailure 将存储错误归类为 ErrStorageUnavailable，保留原因链
func (r *MailboxRegistry) storageFailure(operation string, err error) error {
	r.metrics.RecordStorageError(operation)
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStorageUnavailable, operation, err)
}

// providerFailure 将远程调用错误归类为 ErrProviderUnavailable
func providerFailure(err error) error {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
}
