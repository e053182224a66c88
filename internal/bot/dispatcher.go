package bot

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/logger"
	"tempmail/mailbot/internal/session"
)

// Update 传输层投递的一条用户消息
type Update struct {
	UserID   int64  `json:"userId" binding:"required"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// UserRegistrar 用户登记
type UserRegistrar interface {
	Register(ctx context.Context, ref domain.UserRef) (*domain.User, bool, error)
}

// MailboxManager 邮箱生命周期操作
type MailboxManager interface {
	Create(ctx context.Context, ref domain.UserRef) (*domain.CreateResult, error)
	List(ctx context.Context, userID int64, limit int) ([]domain.Mailbox, error)
	Limit() int
}

// SelectionManager 删除选择会话
type SelectionManager interface {
	Open(ctx context.Context, userID int64) (*session.Session, error)
	Select(ctx context.Context, userID int64, input string) (*domain.Mailbox, error)
	Cancel(ctx context.Context, userID int64) (bool, error)
}

// Dispatcher 将用户命令映射到邮箱与会话操作，并渲染 Markdown 回复。
type Dispatcher struct {
	users        UserRegistrar
	mailboxes    MailboxManager
	sessions     SelectionManager
	historyLimit int
	log          *zap.Logger
}

// NewDispatcher 创建命令分发器
func NewDispatcher(users UserRegistrar, mailboxes MailboxManager, sessions SelectionManager, historyLimit int, log *zap.Logger) *Dispatcher {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Dispatcher{
		users:        users,
		mailboxes:    mailboxes,
		sessions:     sessions,
		historyLimit: historyLimit,
		log:          logger.OrNop(log).Named("bot"),
	}
}

// Handle 处理一条消息，返回按顺序发送的回复
func (d *Dispatcher) Handle(ctx context.Context, update Update) []string {
	ref := domain.UserRef{ID: update.UserID, Username: update.Username}
	command, ok := parseCommand(update.Text)
	if !ok {
		return d.selection(ctx, ref, update.Text)
	}

	d.log.Debug("command received", zap.Int64("user_id", ref.ID), zap.String("command", command))

	switch command {
	case "start", "help":
		return d.start(ctx, ref)
	case "newmail":
		return d.newMail(ctx, ref)
	case "history":
		return d.history(ctx, ref)
	case "deletemail":
		return d.deleteMail(ctx, ref)
	case "cancel":
		return d.cancel(ctx, ref)
	default:
		return []string{msgUnknownCommand}
	}
}

func (d *Dispatcher) start(ctx context.Context, ref domain.UserRef) []string {
	if _, _, err := d.users.Register(ctx, ref); err != nil {
		d.fail("start", ref, err)
		return []string{msgGenericError}
	}
	return []string{welcomeMessage(d.mailboxes.Limit(), d.historyLimit)}
}

func (d *Dispatcher) newMail(ctx context.Context, ref domain.UserRef) []string {
	result, err := d.mailboxes.Create(ctx, ref)
	if err != nil {
		d.fail("newmail", ref, err)
		if errors.Is(err, domain.ErrProviderUnavailable) {
			return []string{msgProvisionFailed}
		}
		return []string{msgGenericError}
	}

	replies := make([]string, 0, 2)
	if result.Evicted != nil {
		replies = append(replies, evictedMessage(result.Limit, result.Evicted))
	}
	return append(replies, createdMessage(result))
}

func (d *Dispatcher) history(ctx context.Context, ref domain.UserRef) []string {
	mailboxes, err := d.mailboxes.List(ctx, ref.ID, d.historyLimit)
	if err != nil {
		d.fail("history", ref, err)
		return []string{msgGenericError}
	}
	if len(mailboxes) == 0 {
		return []string{msgNoHistory}
	}
	return historyMessages(mailboxes)
}

func (d *Dispatcher) deleteMail(ctx context.Context, ref domain.UserRef) []string {
	s, err := d.sessions.Open(ctx, ref.ID)
	if errors.Is(err, domain.ErrNoActiveMailboxes) {
		return []string{msgNothingToDelete}
	}
	if err != nil {
		d.fail("deletemail", ref, err)
		return []string{msgGenericError}
	}
	return []string{selectionMessage(s)}
}

func (d *Dispatcher) cancel(ctx context.Context, ref domain.UserRef) []string {
	cancelled, err := d.sessions.Cancel(ctx, ref.ID)
	if err != nil {
		d.fail("cancel", ref, err)
		return []string{msgGenericError}
	}
	if !cancelled {
		return []string{msgNothingToCancel}
	}
	return []string{msgCancelled}
}

// selection 非命令文本视为删除会话中的选择回复
func (d *Dispatcher) selection(ctx context.Context, ref domain.UserRef, input string) []string {
	mailbox, err := d.sessions.Select(ctx, ref.ID, input)
	switch {
	case err == nil:
		return []string{deletedMessage(mailbox)}
	case errors.Is(err, domain.ErrInvalidSelection):
		return []string{msgInvalidSelection}
	case errors.Is(err, domain.ErrSessionExpired):
		return []string{msgSessionExpired}
	case errors.Is(err, domain.ErrMailboxNotFound), errors.Is(err, domain.ErrMailboxAlreadyDeleted):
		return []string{msgMailboxGone}
	default:
		d.fail("select", ref, err)
		return []string{msgDeleteFailed}
	}
}

func (d *Dispatcher) fail(command string, ref domain.UserRef, err error) {
	if domain.IsRejection(err) {
		d.log.Info("command rejected", zap.String("command", command), zap.Int64("user_id", ref.ID), zap.Error(err))
		return
	}
	d.log.Error("command failed", zap.String("command", command), zap.Int64("user_id", ref.ID), zap.Error(err))
}

// parseCommand 解析 "/cmd@botname args" 形式的命令
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", false
	}
	command, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(command), true
}
