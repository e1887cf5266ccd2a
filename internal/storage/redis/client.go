package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewClient 创建 Redis 客户端并检查连通性。
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// Key 以冒号拼接带前缀的键名。
func Key(prefix string, parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if prefix = strings.Trim(prefix, ":"); prefix != "" {
		all = append(all, prefix)
	}
	for _, part := range parts {
		if part = strings.Trim(part, ":"); part != "" {
			all = append(all, part)
		}
	}
	return strings.Join(all, ":")
}
