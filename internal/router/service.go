package router

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/pkg/logger"
)

// Previewer 提供不占用额度的试编译。
type Previewer interface {
	Preview(ctx context.Context, in *intent.Intent) (*compiler.Plan, error)
}

// Service 负责意图的受理与查询。
type Service struct {
	store      Store
	producer   Producer
	previewer  Previewer
	maxRetries int
	ttl        time.Duration
	now        func() time.Time
}

// ServiceOption 定制 Service。
type ServiceOption func(*Service)

// WithMaxRetries 设置每个意图的最大尝试次数。
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithDefaultTTL 设置缺省截止时间距受理时刻的时长。
func WithDefaultTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPreviewer 启用 Preview。
func WithPreviewer(p Previewer) ServiceOption {
	return func(s *Service) {
		s.previewer = p
	}
}

// WithServiceClock 替换时间源。
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造意图服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		producer:   producer,
		maxRetries: 3,
		ttl:        10 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 校验意图、持久化并推送到队列。携带已存在 ID 的提交直接返回已有记录。
func (s *Service) Submit(ctx context.Context, in *intent.Intent) (*Record, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图服务未初始化")
	}
	if in == nil {
		return nil, xerrors.New(intent.CodeIntentInvalid, "intent is required")
	}
	now := s.now()
	normalized := in.Clone()
	normalized.Normalize(now, s.ttl)

	if normalized.ID != "" {
		existing, err := s.store.Get(ctx, normalized.ID)
		if err == nil {
			return existing, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	if err := normalized.Validate(now); err != nil {
		return nil, err
	}
	if normalized.ID == "" {
		normalized.ID = uuid.NewString()
	}

	record := &Record{
		ID:         normalized.ID,
		MandateID:  normalized.MandateID,
		Agent:      normalized.Agent,
		Type:       normalized.Type,
		Intent:     normalized,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, record); err != nil {
		if stdErrors.Is(err, ErrIntentConflict) {
			existing, getErr := s.store.Get(ctx, record.ID)
			if getErr == nil {
				return existing, nil
			}
			if !IsNotFound(getErr) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, record.ID); err != nil {
		logger.L().Error("意图入队失败", slog.Any("error", err), slog.String("intent_id", record.ID))
		wrapped := xerrors.Wrap(CodeIntentPublish, err, "发布意图到队列失败")
		_ = s.store.MarkFailed(ctx, record.ID, CodeIntentPublish, wrapped.Error(), true, nil)
		return nil, wrapped
	}
	logger.Audit().Info("intent accepted",
		slog.String("intent_id", record.ID),
		slog.String("mandate_id", record.MandateID),
		slog.String("agent", record.Agent),
		slog.String("type", string(record.Type)),
		slog.String("amount_in", normalized.AmountIn.String()),
		slog.Int("max_retries", record.MaxRetries),
	)
	return record, nil
}

// Preview 试编译意图，不占用额度也不入队。
func (s *Service) Preview(ctx context.Context, in *intent.Intent) (*compiler.Plan, error) {
	if s.previewer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图编译器未初始化")
	}
	return s.previewer.Preview(ctx, in)
}

// Get 返回指定意图的状态。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的意图列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的意图统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "意图存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilFinal 轮询直到意图进入终态或 ctx 结束。
func (s *Service) WaitUntilFinal(ctx context.Context, id string, interval time.Duration) (*Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record.Final() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
