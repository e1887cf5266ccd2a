package mandate

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"IntentLayer-Lite/internal/storage/redis"
	"IntentLayer-Lite/pkg/logger"
)

// CachedStore 为任意 Store 增加 Redis 读穿缓存，写操作后删除对应键。
type CachedStore struct {
	inner  Store
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewCachedStore 创建带缓存的存储，ttl 非正时使用 5 分钟。
func NewCachedStore(inner Store, client goredis.UniversalClient, prefix string, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{inner: inner, client: client, prefix: prefix, ttl: ttl}
}

func (c *CachedStore) key(id string) string {
	return redis.Key(c.prefix, "mandate", id)
}

// Create 写入底层存储并清理缓存。
func (c *CachedStore) Create(ctx context.Context, m *Mandate) error {
	if err := c.inner.Create(ctx, m); err != nil {
		return err
	}
	c.invalidate(ctx, m.ID)
	return nil
}

// Get 优先读取缓存，未命中时回源并回填。
func (c *CachedStore) Get(ctx context.Context, id string) (*Mandate, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	switch {
	case err == nil:
		var cached Mandate
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return &cached, nil
		}
		c.invalidate(ctx, id)
	case !stdErrors.Is(err, goredis.Nil):
		logger.L().Warn("读取授权书缓存失败", "mandate_id", id, "error", err)
	}

	m, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(m); err == nil {
		if err := c.client.Set(ctx, c.key(id), encoded, c.ttl).Err(); err != nil {
			logger.L().Warn("写入授权书缓存失败", "mandate_id", id, "error", err)
		}
	}
	return m, nil
}

// Update 更新底层存储并删除缓存。
func (c *CachedStore) Update(ctx context.Context, m *Mandate) error {
	if err := c.inner.Update(ctx, m); err != nil {
		return err
	}
	c.invalidate(ctx, m.ID)
	return nil
}

// List 直接查询底层存储。
func (c *CachedStore) List(ctx context.Context, opts ListOptions) ([]*Mandate, error) {
	return c.inner.List(ctx, opts)
}

// Close 关闭底层存储，Redis 客户端由调用方管理。
func (c *CachedStore) Close() error {
	return c.inner.Close()
}

func (c *CachedStore) invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		logger.L().Warn("清理授权书缓存失败", "mandate_id", id, "error", err)
	}
}

var _ Store = (*CachedStore)(nil)
