// Package events 发布邮箱生命周期事件。
//
// 事件在存储提交之后发布；发布失败只记录日志，不影响业务操作的结果。
package events

import (
	"context"
	"time"
)

// Type 事件类型
type Type string

const (
	TypeMailboxCreated Type = "mailbox.created"
	TypeMailboxEvicted Type = "mailbox.evicted"
	TypeMailboxDeleted Type = "mailbox.deleted"
)

// Event 邮箱生命周期事件
type Event struct {
	Type       Type      `json:"type"`
	UserID     int64     `json:"userId"`
	MailboxID  int64     `json:"mailboxId"`
	Address    string    `json:"address"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 什么都不做
func (Nop) Publish(context.Context, Event) error { return nil }
