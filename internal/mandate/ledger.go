package mandate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/pkg/units"
)

// Ledger 记录每个授权书在自然日窗口内已占用的额度。
type Ledger interface {
	// Reserve 原子地占用额度，limit 为零表示不设日限额。
	Reserve(ctx context.Context, mandateID string, amount, limit units.Amount, window string) error
	Release(ctx context.Context, mandateID string, amount units.Amount, window string) error
	Spent(ctx context.Context, mandateID, window string) (units.Amount, error)
}

// WindowOf 返回 t 所在的 UTC 自然日，格式 YYYYMMDD。
func WindowOf(t time.Time) string {
	return t.UTC().Format("20060102")
}

func budgetExceeded(mandateID string, spent, amount, limit units.Amount) error {
	return xerrors.New(CodeBudgetExceeded,
		fmt.Sprintf("mandate %s: spent %s + %s exceeds daily limit %s", mandateID, spent, amount, limit),
		xerrors.WithMetadata("spent", spent.String()),
		xerrors.WithMetadata("limit", limit.String()))
}

// MemoryLedger 是进程内的额度账本。
type MemoryLedger struct {
	mu    sync.Mutex
	spent map[string]units.Amount
}

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{spent: make(map[string]units.Amount)}
}

func ledgerKey(mandateID, window string) string {
	return mandateID + "|" + window
}

// Reserve 实现 Ledger 接口。
func (l *MemoryLedger) Reserve(_ context.Context, mandateID string, amount, limit units.Amount, window string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(mandateID, window)
	current := l.spent[key]
	next := current.Add(amount)
	if !limit.IsZero() && next.Cmp(limit) > 0 {
		return budgetExceeded(mandateID, current, amount, limit)
	}
	l.spent[key] = next
	return nil
}

// Release 归还额度，结果不会低于零。
func (l *MemoryLedger) Release(_ context.Context, mandateID string, amount units.Amount, window string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(mandateID, window)
	next := l.spent[key].Sub(amount)
	if next.IsZero() {
		delete(l.spent, key)
		return nil
	}
	l.spent[key] = next
	return nil
}

// Spent 返回窗口内已占用额度。
func (l *MemoryLedger) Spent(_ context.Context, mandateID, window string) (units.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent[ledgerKey(mandateID, window)], nil
}

var _ Ledger = (*MemoryLedger)(nil)
