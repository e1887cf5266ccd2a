package mandate

import (
	"context"
	"strings"

	"IntentLayer-Lite/internal/intent"
)

// Store 抽象授权书的持久化。
type Store interface {
	Create(ctx context.Context, m *Mandate) error
	Get(ctx context.Context, id string) (*Mandate, error)
	Update(ctx context.Context, m *Mandate) error
	List(ctx context.Context, opts ListOptions) ([]*Mandate, error)
	Close() error
}

// ListOptions 控制授权书查询的过滤条件。
type ListOptions struct {
	Owner  string
	Agent  string
	Status Status
	Limit  int
	Offset int
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Owner = intent.Checksum(opts.Owner)
	opts.Agent = intent.Checksum(opts.Agent)
	opts.Status = Status(strings.ToLower(strings.TrimSpace(string(opts.Status))))
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithOwner 按所有者过滤。
func WithOwner(owner string) ListOption {
	return func(opts *ListOptions) { opts.Owner = owner }
}

// WithAgent 按代理地址过滤。
func WithAgent(agent string) ListOption {
	return func(opts *ListOptions) { opts.Agent = agent }
}

// WithStatus 按状态过滤。
func WithStatus(status Status) ListOption {
	return func(opts *ListOptions) { opts.Status = status }
}

// WithLimit 限制返回条数。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 n 条结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// BuildListOptions 在默认值之上依次应用选项。
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts ListOptions) matches(m *Mandate) bool {
	if opts.Owner != "" && !strings.EqualFold(opts.Owner, m.Owner) {
		return false
	}
	if opts.Agent != "" && !strings.EqualFold(opts.Agent, m.Agent) {
		return false
	}
	if opts.Status != "" && opts.Status != m.Status {
		return false
	}
	return true
}
