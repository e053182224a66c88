package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/mailbot/internal/logger"
)

// publishTimeout 单个事件的发布超时
const publishTimeout = 5 * time.Second

// ErrPublisherStopped 发布者已停止
var ErrPublisherStopped = errors.New("event publisher stopped")

// AsyncPublisher 使用固定数量的协程异步发布事件
//
// 队列已满时丢弃事件并记录日志，调用方永不阻塞。
// Stop 之后的 Publish 直接返回 ErrPublisherStopped。
type AsyncPublisher struct {
	next    Publisher
	workers int
	queue   chan Event
	wg      sync.WaitGroup
	log     *zap.Logger

	// mu 保护 stopped，入队持读锁，关闭队列持写锁
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewAsyncPublisher 创建异步发布者
//
// 参数:
//   - next: 实际发布者
//   - workers: 发布协程数
//   - queueSize: 事件队列大小
func NewAsyncPublisher(next Publisher, workers, queueSize int, log *zap.Logger) *AsyncPublisher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AsyncPublisher{
		next:    next,
		workers: workers,
		queue:   make(chan Event, queueSize),
		log:     logger.OrNop(log).Named("events"),
	}
}

// Start 启动发布协程
func (p *AsyncPublisher) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Publish 事件入队
func (p *AsyncPublisher) Publish(_ context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.log.Debug("publisher stopped, dropping event",
			zap.String("type", string(event.Type)),
			zap.Int64("mailbox_id", event.MailboxID),
		)
		return ErrPublisherStopped
	}

	select {
	case p.queue <- event:
	default:
		p.log.Warn("event queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.Int64("mailbox_id", event.MailboxID),
		)
	}
	return nil
}

// Stop 停止接收并等待队列中的事件发布完毕
func (p *AsyncPublisher) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()

		p.wg.Wait()
	})
}

func (p *AsyncPublisher) worker() {
	defer p.wg.Done()

	for event := range p.queue {
		p.deliver(event)
	}
}

// deliver 发布单个事件（捕获 panic）
func (p *AsyncPublisher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("event publisher panic", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.next.Publish(ctx, event); err != nil {
		p.log.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Int64("mailbox_id", event.MailboxID),
			zap.Error(err),
		)
	}
}
