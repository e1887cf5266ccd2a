package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列参数，连接由调用方提供。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现简单的意图队列。
type RedisQueue struct {
	client goredis.UniversalClient
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(client goredis.UniversalClient, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "intentlayer:intents"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// Publish 将意图投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, intentID string) error {
	if err := q.client.LPush(ctx, q.queue, intentID).Err(); err != nil {
		return fmt.Errorf("Redis 发布意图失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取意图。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, goredis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, goredis.Nil) {
						continue
					}
					errCh <- fmt.Errorf("Redis 取意图失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				intentID := values[1]
				if handlerErr := handler(ctx, intentID); handlerErr != nil {
					// 处理失败时重新投递。
					_ = q.client.RPush(ctx, q.queue, intentID).Err()
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 不关闭共享的 Redis 连接，由创建方负责。
func (q *RedisQueue) Close() error {
	return nil
}
