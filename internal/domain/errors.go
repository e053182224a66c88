package domain

import "errors"

// 错误分类。调用方使用 errors.Is 判断类别，底层原因通过 %w 包装保留。
var (
	// ErrProviderUnavailable 远程邮箱服务调用失败或超时，调用方可重试
	ErrProviderUnavailable = errors.New("mail provider unavailable")
	// ErrStorageUnavailable 持久化存储不可用
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMailboxNotFound 邮箱不存在（对调用方也用于掩盖“不属于该用户”）
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMailboxNotOwned 邮箱不属于该用户，仅在内部使用
	ErrMailboxNotOwned = errors.New("mailbox not owned by user")
	// ErrMailboxAlreadyDeleted 邮箱已删除
	ErrMailboxAlreadyDeleted = errors.New("mailbox already deleted")
	// ErrAddressTaken 地址已被使用过（地址永不在本地复用）
	ErrAddressTaken = errors.New("address already issued")
	// ErrAddressNotFound 远程服务上不存在该地址的路由
	ErrAddressNotFound = errors.New("address route not found")

	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")

	// ErrSessionExpired 选择会话已过期或不存在
	ErrSessionExpired = errors.New("selection session expired")
	// ErrInvalidSelection 回复无法匹配任何候选项
	ErrInvalidSelection = errors.New("invalid selection")
	// ErrNoActiveMailboxes 没有可供删除的活跃邮箱
	ErrNoActiveMailboxes = errors.New("no active mailboxes")
)

// IsRejection 判断错误是否为面向用户的拒绝（非系统故障，不按 error 级别记录）。
func IsRejection(err error) bool {
	return errors.Is(err, ErrMailboxNotFound) ||
		errors.Is(err, ErrMailboxNotOwned) ||
		errors.Is(err, ErrMailboxAlreadyDeleted) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidSelection) ||
		errors.Is(err, ErrNoActiveMailboxes)
}
