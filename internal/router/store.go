package router

import (
	"context"

	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
)

// Store 抽象了意图记录的持久化接口。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Claim(ctx context.Context, id string) (*Record, error)
	MarkSucceeded(ctx context.Context, id string, status Status, result Result) error
	MarkRejected(ctx context.Context, id string, code xerrors.Code, message string, violations []compiler.Violation) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, message string, terminal bool, result *Result) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了意图状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Compiled        int   `json:"compiled"`
	Submitted       int   `json:"submitted"`
	Confirmed       int   `json:"confirmed"`
	Rejected        int   `json:"rejected"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(status Status) {
	s.Total++
	switch status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusCompiled:
		s.Compiled++
	case StatusSubmitted:
		s.Submitted++
	case StatusConfirmed:
		s.Confirmed++
	case StatusRejected:
		s.Rejected++
	case StatusFailed:
		s.Failed++
	}
}

// claimError 根据记录当前状态解释领取失败的原因。
func claimError(record *Record) error {
	switch {
	case record.Status == StatusRunning:
		return ErrIntentConflict
	case record.Final() && record.Status != StatusFailed:
		return ErrIntentCompleted
	case record.Terminal || record.Attempts >= record.MaxRetries:
		return ErrIntentExhausted
	default:
		return ErrIntentConflict
	}
}

// claimable 报告记录能否进入 running。
func claimable(record *Record) bool {
	switch record.Status {
	case StatusPending:
	case StatusFailed:
		if record.Terminal {
			return false
		}
	default:
		return false
	}
	return record.Attempts < record.MaxRetries
}
