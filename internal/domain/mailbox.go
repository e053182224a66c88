package domain

import (
	"time"
)

// MailboxStatus 邮箱状态，只允许 active → deleted 单向迁移。
type MailboxStatus string

const (
	MailboxStatusActive  MailboxStatus = "active"
	MailboxStatusDeleted MailboxStatus = "deleted"
)

// Mailbox 表示发放给用户的临时邮箱记录。
//
// 删除是终态：记录保留在存储中用于历史查询，但不再占用容量。
type Mailbox struct {
	ID        int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64      `json:"userId" gorm:"not null;index:ix_mails_user_created,priority:1"`
	Email     string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	IsActive  bool       `json:"isActive" gorm:"not null;default:true"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;index:ix_mails_user_created,priority:2"`
	RemovedAt *time.Time `json:"removedAt,omitempty"`
}

// TableName 与原有表结构保持一致。
func (Mailbox) TableName() string {
	return "mails"
}

// Status 返回邮箱的生命周期状态。
func (m *Mailbox) Status() MailboxStatus {
	if m.IsActive {
		return MailboxStatusActive
	}
	return MailboxStatusDeleted
}

// CreateResult 创建邮箱的结果。
//
// Evicted 非空表示本次创建触发了容量淘汰（最多一个）。
type CreateResult struct {
	Mailbox     *Mailbox `json:"mailbox"`
	Evicted     *Mailbox `json:"evicted,omitempty"`
	ActiveCount int      `json:"activeCount"`
	Limit       int      `json:"limit"`
}
