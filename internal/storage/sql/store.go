package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL），查询通过 GORM 完成
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建SQL数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	// 验证驱动类型
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	var dialector gorm.Dialector
	if driverName == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: db})
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// DriverName 返回数据库类型
func (s *Store) DriverName() string {
	return s.driverName
}

// migrate 执行数据库迁移（使用GORM AutoMigrate）
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.User{},
		&domain.Mailbox{},
	)
}

// ========== Mailbox Repository ==========

// InsertActiveMailbox 插入活跃邮箱
func (s *Store) InsertActiveMailbox(ctx context.Context, userID int64, address string) (*domain.Mailbox, error) {
	mailbox := &domain.Mailbox{
		UserID:   userID,
		Email:    address,
		IsActive: true,
	}
	if err := s.gormDB.WithContext(ctx).Create(mailbox).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, domain.ErrAddressTaken
		}
		return nil, err
	}
	return mailbox, nil
}

// MarkMailboxDeleted 标记邮箱为已删除，重复标记是幂等的
func (s *Store) MarkMailboxDeleted(ctx context.Context, mailboxID int64) error {
	db := s.gormDB.WithContext(ctx)

	result := db.Model(&domain.Mailbox{}).
		Where("id = ? AND is_active = ?", mailboxID, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"removed_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// 没有更新任何行：已删除或不存在
	var count int64
	if err := db.Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrMailboxNotFound
	}
	return nil
}

// CountActiveMailboxes 统计活跃邮箱数量
func (s *Store) CountActiveMailboxes(ctx context.Context, userID int64) (int, error) {
	var count int64
	err := s.gormDB.WithContext(ctx).
		Model(&domain.Mailbox{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return int(count), err
}

// OldestActiveMailbox 返回 ID 最小的活跃邮箱
func (s *Store) OldestActiveMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id ASC").
		Take(&mailbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// RecentMailboxes 按 ID 倒序返回最近 n 条记录
func (s *Store) RecentMailboxes(ctx context.Context, userID int64, n int) ([]domain.Mailbox, error) {
	mailboxes := make([]domain.Mailbox, 0)
	err := s.gormDB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(n).
		Find(&mailboxes).Error
	return mailboxes, err
}

// ListActiveMailboxes 按 ID 倒序返回最近 n 条活跃记录
func (s *Store) ListActiveMailboxes(ctx context.Context, userID int64, n int) ([]domain.Mailbox, error) {
	mailboxes := make([]domain.Mailbox, 0)
	err := s.gormDB.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id DESC").
		Limit(n).
		Find(&mailboxes).Error
	return mailboxes, err
}

// FindActiveMailbox 查找属于该用户的活跃邮箱
func (s *Store) FindActiveMailbox(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.WithContext(ctx).
		Where("id = ? AND user_id = ? AND is_active = ?", mailboxID, userID, true).
		Take(&mailbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, mailboxID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.WithContext(ctx).Where("id = ?", mailboxID).Take(&mailbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMailboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// isDuplicateKey 判断唯一约束冲突（lib/pq 的错误不会被 GORM 转换）
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
