package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
)

// NSQPublisher 将事件以 JSON 形式发布到 NSQ 主题
type NSQPublisher struct {
	producer *nsq.Producer
	topic    string
}

// NewNSQPublisher 创建 NSQ 发布者
func NewNSQPublisher(addr, topic string) (*NSQPublisher, error) {
	cfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	return &NSQPublisher{producer: producer, topic: topic}, nil
}

// Publish 发布事件
func (p *NSQPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// go-nsq 的 Publish 不接收 context
	return p.producer.Publish(p.topic, payload)
}

// Ping 检查 nsqd 连接
func (p *NSQPublisher) Ping() error {
	return p.producer.Ping()
}

// Close 停止生产者
func (p *NSQPublisher) Close() {
	if p.producer != nil {
		p.producer.Stop()
	}
}
