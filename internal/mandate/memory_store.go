package mandate

import (
	"context"
	"sort"
	"sync"

	xerrors "IntentLayer-Lite/internal/errors"
)

// MemoryStore 以内存方式保存授权书，适用于单实例部署与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	mandates map[string]*Mandate
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mandates: make(map[string]*Mandate)}
}

// Create 实现 Store 接口。
func (s *MemoryStore) Create(_ context.Context, m *Mandate) error {
	if m == nil || m.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "授权书 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mandates[m.ID]; ok {
		return ErrMandateConflict
	}
	s.mandates[m.ID] = m.Clone()
	return nil
}

// Get 实现 Store 接口。
func (s *MemoryStore) Get(_ context.Context, id string) (*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mandates[id]
	if !ok {
		return nil, ErrMandateNotFound
	}
	return m.Clone(), nil
}

// Update 覆盖已有授权书。
func (s *MemoryStore) Update(_ context.Context, m *Mandate) error {
	if m == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "授权书不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mandates[m.ID]; !ok {
		return ErrMandateNotFound
	}
	s.mandates[m.ID] = m.Clone()
	return nil
}

// List 按创建时间倒序返回授权书。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts.applyDefaults()
	results := make([]*Mandate, 0, len(s.mandates))
	for _, m := range s.mandates {
		if opts.matches(m) {
			results = append(results, m.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt == results[j].CreatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt > results[j].CreatedAt
	})
	if opts.Offset >= len(results) {
		return []*Mandate{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
