// Package session 实现“删除哪个邮箱”的选择会话。
//
// 每个用户最多一个打开的会话，新会话直接覆盖旧会话。会话过期只是逻辑上的取消，
// 不影响任何已开始的邮箱操作。
package session

import (
	"strconv"
	"strings"
	"time"
)

// State 会话状态
type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
	StateExpired  State = "expired"
)

// Entry 会话中的一个候选项，Ordinal 从 1 开始
type Entry struct {
	Ordinal   int    `json:"ordinal"`
	MailboxID int64  `json:"mailboxId"`
	Address   string `json:"address"`
}

// Session 选择会话，候选项是打开时活跃邮箱的快照
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Entries   []Entry   `json:"entries"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExpiredAt 判断会话在给定时刻是否已过期
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Match 按序号或地址（不区分大小写）查找候选项
func (s *Session) Match(input string) (Entry, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Entry{}, false
	}

	if ordinal, err := strconv.Atoi(input); err == nil {
		if ordinal >= 1 && ordinal <= len(s.Entries) {
			return s.Entries[ordinal-1], true
		}
		return Entry{}, false
	}

	for _, entry := range s.Entries {
		if strings.EqualFold(entry.Address, input) {
			return entry, true
		}
	}
	return Entry{}, false
}
