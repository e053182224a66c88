package domain

import "time"

// User 表示与机器人交互的终端用户。
//
// TelegramID 是外部传输层提供的不透明稳定标识，首次接触时创建，永不删除。
type User struct {
	TelegramID int64     `json:"telegramId" gorm:"primaryKey;autoIncrement:false"`
	Username   string    `json:"username,omitempty" gorm:"type:varchar(255)"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null"`
}

// TableName 用户表名
func (User) TableName() string {
	return "users"
}

// UserRef 传输层携带的用户引用（ID + 可选显示名）
type UserRef struct {
	ID       int64
	Username string
}
