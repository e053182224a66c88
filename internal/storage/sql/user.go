package sql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tempmail/mailbot/internal/domain"
)

// EnsureUser 首次接触时注册用户，显示名变化时更新
func (s *Store) EnsureUser(ctx context.Context, ref domain.UserRef) (*domain.User, bool, error) {
	db := s.gormDB.WithContext(ctx)

	user, err := s.findUser(db, ref.ID)
	if errors.Is(err, domain.ErrUserNotFound) {
		user = &domain.User{
			TelegramID: ref.ID,
			Username:   ref.Username,
		}
		createErr := db.Create(user).Error
		if createErr == nil {
			return user, true, nil
		}
		if !isDuplicateKey(createErr) {
			return nil, false, createErr
		}
		// 并发注册：对方已插入，按已存在处理
		user, err = s.findUser(db, ref.ID)
	}
	if err != nil {
		return nil, false, err
	}

	if ref.Username != "" && user.Username != ref.Username {
		if err := db.Model(user).Update("username", ref.Username).Error; err != nil {
			return nil, false, err
		}
		user.Username = ref.Username
	}
	return user, false, nil
}

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return s.findUser(s.gormDB.WithContext(ctx), userID)
}

func (s *Store) findUser(db *gorm.DB, userID int64) (*domain.User, error) {
	var user domain.User
	err := db.Where("telegram_id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
