package mandate

import (
	"context"
	stdErrors "errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/storage/redis"
	"IntentLayer-Lite/pkg/units"
)

const (
	ledgerKeyTTL     = 48 * time.Hour
	ledgerMaxRetries = 16
)

// RedisLedger 把窗口额度保存为十进制字符串，通过 WATCH/MULTI 保证并发安全。
type RedisLedger struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisLedger 创建 RedisLedger。
func NewRedisLedger(client goredis.UniversalClient, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(mandateID, window string) string {
	return redis.Key(l.prefix, "ledger", mandateID, window)
}

// Reserve 实现 Ledger 接口。
func (l *RedisLedger) Reserve(ctx context.Context, mandateID string, amount, limit units.Amount, window string) error {
	key := l.key(mandateID, window)
	return l.update(ctx, key, func(current units.Amount) (units.Amount, error) {
		next := current.Add(amount)
		if !limit.IsZero() && next.Cmp(limit) > 0 {
			return units.Amount{}, budgetExceeded(mandateID, current, amount, limit)
		}
		return next, nil
	})
}

// Release 实现 Ledger 接口。
func (l *RedisLedger) Release(ctx context.Context, mandateID string, amount units.Amount, window string) error {
	key := l.key(mandateID, window)
	return l.update(ctx, key, func(current units.Amount) (units.Amount, error) {
		return current.Sub(amount), nil
	})
}

// Spent 实现 Ledger 接口。
func (l *RedisLedger) Spent(ctx context.Context, mandateID, window string) (units.Amount, error) {
	return l.read(ctx, l.client, l.key(mandateID, window))
}

func (l *RedisLedger) read(ctx context.Context, cmd goredis.Cmdable, key string) (units.Amount, error) {
	raw, err := cmd.Get(ctx, key).Result()
	if stdErrors.Is(err, goredis.Nil) {
		return units.Amount{}, nil
	}
	if err != nil {
		return units.Amount{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取额度账本失败")
	}
	amount, err := units.ParseAmount(raw)
	if err != nil {
		return units.Amount{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析额度账本失败")
	}
	return amount, nil
}

func (l *RedisLedger) update(ctx context.Context, key string, apply func(units.Amount) (units.Amount, error)) error {
	txf := func(tx *goredis.Tx) error {
		current, err := l.read(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := apply(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next.String(), ledgerKeyTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < ledgerMaxRetries; attempt++ {
		err := l.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if stdErrors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新额度账本失败")
	}
	return xerrors.New(xerrors.CodeConflict, "额度账本并发冲突，请稍后重试", xerrors.WithRetryable(true))
}

var _ Ledger = (*RedisLedger)(nil)
