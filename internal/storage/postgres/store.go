package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/storage"
	"tempmail/mailbot/internal/storage/migrations"
)

// uniqueViolation PostgreSQL 唯一约束冲突错误码
const uniqueViolation = "23505"

const mailboxColumns = "id, user_id, email, is_active, created_at, removed_at"

// Store 基于 pgx 连接池的 PostgreSQL 存储，每个方法对应一条原子 SQL。
type Store struct {
	client *Client
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建 PostgreSQL 存储实例
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// EnsureSchema 执行内嵌的建表脚本（幂等）
func (s *Store) EnsureSchema(ctx context.Context) error {
	scripts, err := migrations.Load("postgres", migrations.Up)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := s.client.pool.Exec(ctx, script.SQL); err != nil {
			return fmt.Errorf("apply %s: %w", script.Name, err)
		}
	}
	return nil
}

// ========== Mailbox Repository ==========

// InsertActiveMailbox 插入活跃邮箱
func (s *Store) InsertActiveMailbox(ctx context.Context, userID int64, address string) (*domain.Mailbox, error) {
	row := s.client.pool.QueryRow(ctx,
		`INSERT INTO mails (user_id, email, is_active, created_at)
		 VALUES ($1, $2, TRUE, NOW())
		 RETURNING `+mailboxColumns,
		userID, address,
	)

	mailbox, err := scanMailbox(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrAddressTaken
		}
		return nil, err
	}
	return mailbox, nil
}

// MarkMailboxDeleted 标记邮箱为已删除，重复标记是幂等的
func (s *Store) MarkMailboxDeleted(ctx context.Context, mailboxID int64) error {
	tag, err := s.client.pool.Exec(ctx,
		`UPDATE mails
		 SET is_active = FALSE, removed_at = NOW()
		 WHERE id = $1 AND is_active`,
		mailboxID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// 没有更新任何行：已删除或不存在
	var exists bool
	if err := s.client.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mails WHERE id = $1)`,
		mailboxID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrMailboxNotFound
	}
	return nil
}

// CountActiveMailboxes 统计活跃邮箱数量
func (s *Store) CountActiveMailboxes(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.client.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mails WHERE user_id = $1 AND is_active`,
		userID,
	).Scan(&count)
	return count, err
}

// OldestActiveMailbox 返回 ID 最小的活跃邮箱
func (s *Store) OldestActiveMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	row := s.client.pool.QueryRow(ctx,
		`SELECT `+mailboxColumns+` FROM mails
		 WHERE user_id = $1 AND is_active
		 ORDER BY id ASC
		 LIMIT 1`,
		userID,
	)

	mailbox, err := scanMailbox(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return mailbox, err
}

// RecentMailboxes 按 ID 倒序返回最近 n 条记录
func (s *Store) RecentMailboxes(ctx context.Context, userID int64, n int) ([]domain.Mailbox, error) {
	return s.queryMailboxes(ctx,
		`SELECT `+mailboxColumns+` FROM mails
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		userID, n,
	)
}

// ListActiveMailboxes 按 ID 倒序返回最近 n 条活跃记录
func (s *Store) ListActiveMailboxes(ctx context.Context, userID int64, n int) ([]domain.Mailbox, error) {
	return s.queryMailboxes(ctx,
		`SELECT `+mailboxColumns+` FROM mails
		 WHERE user_id = $1 AND is_active
		 ORDER BY id DESC
		 LIMIT $2`,
		userID, n,
	)
}

// FindActiveMailbox 查找属于该用户的活跃邮箱
func (s *Store) FindActiveMailbox(ctx context.Context, userID, mailboxID int64) (*domain.Mailbox, error) {
	row := s.client.pool.QueryRow(ctx,
		`SELECT `+mailboxColumns+` FROM mails
		 WHERE id = $1 AND user_id = $2 AND is_active`,
		mailboxID, userID,
	)

	mailbox, err := scanMailbox(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return mailbox, err
}

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, mailboxID int64) (*domain.Mailbox, error) {
	row := s.client.pool.QueryRow(ctx,
		`SELECT `+mailboxColumns+` FROM mails WHERE id = $1`,
		mailboxID,
	)

	mailbox, err := scanMailbox(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMailboxNotFound
	}
	return mailbox, err
}

func (s *Store) queryMailboxes(ctx context.Context, query string, args ...interface{}) ([]domain.Mailbox, error) {
	rows, err := s.client.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mailboxes := make([]domain.Mailbox, 0)
	for rows.Next() {
		mailbox, err := scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, *mailbox)
	}
	return mailboxes, rows.Err()
}

func scanMailbox(row pgx.Row) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	if err := row.Scan(
		&mailbox.ID,
		&mailbox.UserID,
		&mailbox.Email,
		&mailbox.IsActive,
		&mailbox.CreatedAt,
		&mailbox.RemovedAt,
	); err != nil {
		return nil, err
	}
	return &mailbox, nil
}

// ========== User Repository ==========

// EnsureUser 单条语句完成注册或显示名更新；xmax = 0 表示本次插入
func (s *Store) EnsureUser(ctx context.Context, ref domain.UserRef) (*domain.User, bool, error) {
	var user domain.User
	var created bool
	err := s.client.pool.QueryRow(ctx,
		`INSERT INTO users (telegram_id, username, created_at)
		 VALUES ($1, NULLIF($2, ''), NOW())
		 ON CONFLICT (telegram_id) DO UPDATE
		 SET username = COALESCE(EXCLUDED.username, users.username)
		 RETURNING telegram_id, COALESCE(username, ''), created_at, (xmax = 0)`,
		ref.ID, ref.Username,
	).Scan(&user.TelegramID, &user.Username, &user.CreatedAt, &created)
	if err != nil {
		return nil, false, err
	}
	return &user, created, nil
}

// GetUser 根据 ID 获取用户
func (s *Store) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	err := s.client.pool.QueryRow(ctx,
		`SELECT telegram_id, COALESCE(username, ''), created_at FROM users WHERE telegram_id = $1`,
		userID,
	).Scan(&user.TelegramID, &user.Username, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ========== 工具方法 ==========

// Close 关闭连接池
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx)
}
