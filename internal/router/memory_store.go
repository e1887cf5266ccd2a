package router

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
)

// MemoryStore 以内存方式保存意图记录，主要用于测试与单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, record *Record) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return ErrIntentConflict
	}
	now := m.now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	m.records[record.ID] = record.Clone()
	return nil
}

// Get 返回意图记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return record.Clone(), nil
}

// Claim 将记录状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if !claimable(record) {
		return record.Clone(), claimError(record)
	}
	record.Status = StatusRunning
	record.Attempts++
	record.LastError = ""
	record.ErrorCode = ""
	record.UpdatedAt = m.now().Unix()
	return record.Clone(), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, status Status, result Result) error {
	return m.update(id, func(record *Record) {
		record.Status = status
		record.Result = &result
		record.Terminal = false
		record.LastError = ""
		record.ErrorCode = ""
		record.Violations = nil
	})
}

// MarkRejected 记录约束拒绝。
func (m *MemoryStore) MarkRejected(_ context.Context, id string, code xerrors.Code, message string, violations []compiler.Violation) error {
	return m.update(id, func(record *Record) {
		record.Status = StatusRejected
		record.Terminal = true
		record.LastError = message
		record.ErrorCode = string(code)
		record.Violations = append([]compiler.Violation(nil), violations...)
	})
}

// MarkFailed 标记失败，terminal 为真时不再重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, message string, terminal bool, result *Result) error {
	return m.update(id, func(record *Record) {
		record.Status = StatusFailed
		record.Terminal = terminal
		record.LastError = message
		record.ErrorCode = string(code)
		if result != nil {
			res := *result
			record.Result = &res
		}
	})
}

func (m *MemoryStore) update(id string, apply func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return ErrIntentNotFound
	}
	apply(record)
	record.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合条件的记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		if !matchesListFilters(record, opts) {
			continue
		}
		results = append(results, record.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.CreatedAt == b.CreatedAt {
					return a.ID < b.ID
				}
				return a.CreatedAt < b.CreatedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Record{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的记录数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := Stats{}
	for _, record := range m.records {
		if !matchesListFilters(record, opts) {
			continue
		}
		stats.add(record.Status)
		if record.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = record.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (record.UpdatedAt != 0 && record.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = record.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(record *Record, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if record.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.MandateID != "" && record.MandateID != opts.MandateID {
		return false
	}
	if opts.Agent != "" && !strings.EqualFold(record.Agent, opts.Agent) {
		return false
	}
	if opts.UpdatedGTE > 0 && record.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && record.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasResult != nil && (record.Result != nil) != *opts.HasResult {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		fields := []string{record.ID, record.MandateID, record.Agent, record.LastError, record.ErrorCode}
		hit := false
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), q) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
