// Package lock 提供按用户互斥的锁。
//
// 同一用户的变更路径（容量检查、淘汰、分配、写入）串行执行，不同用户之间完全并行。
package lock

import (
	"context"
	"sync"
)

// Locker 按用户 ID 加锁；返回的 unlock 必须且只能调用一次。
type Locker interface {
	Lock(ctx context.Context, userID int64) (func(), error)
}

// keyedEntry 单个用户的锁，refs 为持有或等待的协程数
type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// Local 进程内的按键互斥锁，空闲的键会被回收。
type Local struct {
	mu      sync.Mutex
	entries map[int64]*keyedEntry
}

// NewLocal 创建进程内锁
func NewLocal() *Local {
	return &Local{entries: make(map[int64]*keyedEntry)}
}

// Lock 获取用户锁，上下文取消时放弃等待。
func (l *Local) Lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		l.entries[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.release(userID, entry)
		})
	}, nil
}

func (l *Local) release(userID int64, entry *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, userID)
	}
}

// size 当前登记的键数量
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
