package mandate

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/observability/metrics"
	"IntentLayer-Lite/pkg/logger"
	"IntentLayer-Lite/pkg/units"
)

// Registry 负责授权书的注册、查询、撤销与额度查询。
type Registry struct {
	store           Store
	ledger          Ledger
	now             func() time.Time
	defaultSlippage int
}

// RegistryOption 定制 Registry。
type RegistryOption func(*Registry)

// WithClock 替换时间源，便于测试。
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDefaultSlippage 设置未指定时的滑点上限（基点）。
func WithDefaultSlippage(bps int) RegistryOption {
	return func(r *Registry) {
		if bps >= 0 && bps <= units.BpsDenominator {
			r.defaultSlippage = bps
		}
	}
}

// NewRegistry 创建 Registry，ledger 为空时使用内存账本。
func NewRegistry(store Store, ledger Ledger, opts ...RegistryOption) *Registry {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	r := &Registry{
		store:           store,
		ledger:          ledger,
		now:             time.Now,
		defaultSlippage: 100,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Ledger 返回注册中心使用的额度账本。
func (r *Registry) Ledger() Ledger {
	return r.ledger
}

// Register 校验并保存授权书。携带已存在 ID 的请求直接返回已有记录。
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Mandate, error) {
	if r == nil || r.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "授权书注册中心未初始化")
	}
	if id := strings.TrimSpace(req.ID); id != "" {
		existing, err := r.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}

	m, err := req.Build(r.now(), r.defaultSlippage)
	if err != nil {
		return nil, err
	}
	if err := r.store.Create(ctx, m); err != nil {
		if stdErrors.Is(err, ErrMandateConflict) {
			existing, getErr := r.store.Get(ctx, m.ID)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	logger.Audit().Info("mandate registered",
		"mandate_id", m.ID,
		"owner", m.Owner,
		"agent", m.Agent,
		"risk_level", string(m.RiskLevel),
		"max_spend_per_intent", m.MaxSpendPerIntent.String(),
		"daily_spend_limit", m.DailySpendLimit.String(),
	)
	metrics.ObserveMandate("registered")
	return m, nil
}

// Get 返回授权书。
func (r *Registry) Get(ctx context.Context, id string) (*Mandate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, xerrors.New(CodeMandateInvalid, "mandate id is required", xerrors.WithMetadata("field", "id"))
	}
	return r.store.Get(ctx, id)
}

// List 按条件列出授权书。
func (r *Registry) List(ctx context.Context, opts ...ListOption) ([]*Mandate, error) {
	return r.store.List(ctx, BuildListOptions(opts...))
}

// Revoke 撤销授权书，重复撤销不会修改原因与时间。
func (r *Registry) Revoke(ctx context.Context, id, reason string) (*Mandate, error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusRevoked {
		return m, nil
	}
	m.Status = StatusRevoked
	m.RevokeReason = strings.TrimSpace(reason)
	m.UpdatedAt = r.now().Unix()
	if err := r.store.Update(ctx, m); err != nil {
		return nil, err
	}
	logger.Audit().Info("mandate revoked", "mandate_id", m.ID, "owner", m.Owner, "reason", m.RevokeReason)
	metrics.ObserveMandate("revoked")
	return m, nil
}

// Budget 描述授权书在当前窗口的额度使用情况。
type Budget struct {
	MandateID string       `json:"mandate_id"`
	Window    string       `json:"window"`
	Spent     units.Amount `json:"spent"`
	Limit     units.Amount `json:"limit"`
	Remaining units.Amount `json:"remaining"`
	Unlimited bool         `json:"unlimited"`
}

// Budget 查询授权书当日额度。
func (r *Registry) Budget(ctx context.Context, id string) (Budget, error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return Budget{}, err
	}
	window := WindowOf(r.now())
	spent, err := r.ledger.Spent(ctx, m.ID, window)
	if err != nil {
		return Budget{}, err
	}
	budget := Budget{
		MandateID: m.ID,
		Window:    window,
		Spent:     spent,
		Limit:     m.DailySpendLimit,
		Unlimited: m.DailySpendLimit.IsZero(),
	}
	if !budget.Unlimited {
		budget.Remaining = m.DailySpendLimit.Sub(spent)
	}
	return budget, nil
}
