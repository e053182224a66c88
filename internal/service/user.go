package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/monitoring"
	"tempmail/mailbot/internal/storage"
)

// UserService 处理用户注册
type UserService struct {
	repo    storage.UserRepository
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewUserService 创建用户服务
func NewUserService(repo storage.UserRepository, metrics *monitoring.Metrics, log *zap.Logger) *UserService {
	return &UserService{
		repo:    repo,
		metrics: metrics,
		log:     logger.OrNop(log).Named("users"),
	}
}

// Register 首次接触时注册用户；已存在时刷新显示名。重复调用是幂等的。
func (s *UserService) Register(ctx context.Context, ref domain.UserRef) (*domain.User, bool, error) {
	user, created, err := s.repo.EnsureUser(ctx, ref)
	if err != nil {
		s.metrics.RecordStorageError("ensure_user")
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: ensure user: %w", domain.ErrStorageUnavailable, err)
	}

	if created {
		s.metrics.RecordUserRegistered()
		s.log.Info("user registered",
			zap.Int64("user_id", ref.ID),
			zap.String("username", ref.Username),
		)
	}
	return user, created, nil
}

// Get 获取用户
func (s *UserService) Get(ctx context.Context, userID int64) (*domain.User, error) {
	return s.repo.GetUser(ctx, userID)
}
