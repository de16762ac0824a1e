package plan

import (
	"context"
)

// QueueHandler 处理来自消息队列的计划 ID。
type QueueHandler func(ctx context.Context, planID string) error

// Producer 负责向队列投递计划。
type Producer interface {
	Publish(ctx context.Context, planID string) error
	Close() error
}

// Consumer 负责从队列中消费计划。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler QueueHandler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
