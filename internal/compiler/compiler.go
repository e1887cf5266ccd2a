package compiler

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"IntentLayer-Lite/internal/adapter"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/pkg/logger"
	"IntentLayer-Lite/pkg/units"
)

// MandateSource 提供授权书查询。
type MandateSource interface {
	Get(ctx context.Context, id string) (*mandate.Mandate, error)
}

// Reservation 记录编译时占用的日额度。
type Reservation struct {
	MandateID string       `json:"mandate_id"`
	Window    string       `json:"window"`
	Amount    units.Amount `json:"amount"`
}

// Plan 是编译结果：按顺序执行的调用以及相关元数据。
type Plan struct {
	IntentID     string         `json:"intent_id,omitempty"`
	MandateID    string         `json:"mandate_id"`
	Agent        string         `json:"agent"`
	Adapter      string         `json:"adapter"`
	Network      string         `json:"network,omitempty"`
	Type         intent.Type    `json:"type"`
	Calls        []adapter.Call `json:"calls"`
	SlippageBps  int            `json:"slippage_bps"`
	MinAmountOut units.Amount   `json:"min_amount_out"`
	Reservation  *Reservation   `json:"reservation,omitempty"`
	CompiledAt   int64          `json:"compiled_at"`
}

// Compiler 把意图编译为执行计划。
type Compiler struct {
	mandates MandateSource
	adapters *adapter.Registry
	ledger   mandate.Ledger
	now      func() time.Time
	ttl      time.Duration
	network  string
}

// Option 定制 Compiler。
type Option func(*Compiler)

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDefaultTTL 设置意图缺省有效期。
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Compiler) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDefaultNetwork 设置未指定网络的授权所使用的默认链，用于协议部署网络校验。
func WithDefaultNetwork(network string) Option {
	return func(c *Compiler) {
		c.network = strings.ToLower(strings.TrimSpace(network))
	}
}

// New 创建 Compiler。
func New(mandates MandateSource, adapters *adapter.Registry, ledger mandate.Ledger, opts ...Option) *Compiler {
	if ledger == nil {
		ledger = mandate.NewMemoryLedger()
	}
	c := &Compiler{
		mandates: mandates,
		adapters: adapters,
		ledger:   ledger,
		now:      time.Now,
		ttl:      10 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Compile 校验意图、占用日额度并生成调用计划。
func (c *Compiler) Compile(ctx context.Context, in *intent.Intent) (*Plan, error) {
	return c.compile(ctx, in, true)
}

// Preview 执行相同校验并生成调用，但不占用额度。
func (c *Compiler) Preview(ctx context.Context, in *intent.Intent) (*Plan, error) {
	return c.compile(ctx, in, false)
}

// Release 归还计划占用的额度，可重复调用。
func (c *Compiler) Release(ctx context.Context, plan *Plan) error {
	if plan == nil || plan.Reservation == nil {
		return nil
	}
	r := plan.Reservation
	if err := c.ledger.Release(ctx, r.MandateID, r.Amount, r.Window); err != nil {
		return err
	}
	plan.Reservation = nil
	return nil
}

func (c *Compiler) compile(ctx context.Context, raw *intent.Intent, reserve bool) (*Plan, error) {
	if c == nil || c.mandates == nil || c.adapters == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "意图编译器未初始化")
	}
	if raw == nil {
		return nil, xerrors.New(intent.CodeIntentInvalid, "intent is required")
	}
	now := c.now()
	in := raw.Clone()
	in.Normalize(now, c.ttl)
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	m, err := c.mandates.Get(ctx, in.MandateID)
	if err != nil {
		return nil, err
	}
	if err := m.CheckActive(now); err != nil {
		return nil, err
	}

	selected, violations := c.check(in, m)
	if len(violations) > 0 {
		return nil, &ConstraintError{IntentID: in.ID, MandateID: m.ID, Violations: violations}
	}

	slippage := in.Slippage(m.MaxSlippageBps)
	plan := &Plan{
		IntentID:     in.ID,
		MandateID:    m.ID,
		Agent:        in.Agent,
		Adapter:      selected.Name(),
		Network:      c.networkOf(m),
		Type:         in.Type,
		SlippageBps:  slippage,
		MinAmountOut: in.MinOut(slippage),
		CompiledAt:   now.Unix(),
	}

	if reserve {
		window := mandate.WindowOf(now)
		if err := c.ledger.Reserve(ctx, m.ID, in.AmountIn, m.DailySpendLimit, window); err != nil {
			return nil, err
		}
		plan.Reservation = &Reservation{MandateID: m.ID, Window: window, Amount: in.AmountIn}
	}

	calls, err := selected.Build(ctx, adapter.BuildInput{
		Intent:       in,
		Network:      plan.Network,
		SlippageBps:  slippage,
		MinAmountOut: plan.MinAmountOut,
	})
	if err != nil {
		if releaseErr := c.Release(ctx, plan); releaseErr != nil {
			logger.Named("compiler").Error("释放额度失败", "intent_id", in.ID, "mandate_id", m.ID, "error", releaseErr)
		}
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(adapter.CodeAdapterBuildFailed, err, "adapter "+selected.Name()+" failed")
	}
	plan.Calls = calls

	logger.Named("compiler").Debug("意图编译完成",
		"intent_id", in.ID,
		"mandate_id", m.ID,
		"adapter", plan.Adapter,
		"calls", len(calls),
		"reserved", reserve,
	)
	return plan, nil
}

// check 收集所有违规项，而不是遇到第一个就返回。
func (c *Compiler) check(in *intent.Intent, m *mandate.Mandate) (adapter.Adapter, []Violation) {
	var violations []Violation
	add := func(rule, format string, args ...any) {
		violations = append(violations, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if !strings.EqualFold(in.Agent, m.Agent) {
		add(RuleAgent, "agent %s is not the mandate agent", in.Agent)
	}
	if !m.AllowsType(in.Type) {
		add(RuleIntentType, "%s intents are not allowed", in.Type)
	}
	for _, token := range in.Tokens() {
		if !m.AllowsToken(token) {
			add(RuleToken, "token %s is not whitelisted", token)
		}
	}
	if in.Type != intent.TypeTransfer && !strings.EqualFold(in.Recipient, m.Agent) && !strings.EqualFold(in.Recipient, m.Owner) {
		add(RuleRecipient, "recipient %s must be the agent or the owner", in.Recipient)
	}

	selected := c.selectAdapter(in, m, add)
	if selected != nil {
		if !m.AllowsProtocol(selected.Name()) {
			add(RuleProtocol, "protocol %s is not whitelisted", selected.Name())
		}
		if !m.RiskLevel.Permits(selected.Risk()) {
			add(RuleRiskLevel, "protocol %s is %s risk, mandate allows %s", selected.Name(), selected.Risk(), m.RiskLevel)
		}
		network := c.networkOf(m)
		if aware, ok := selected.(adapter.NetworkAware); ok && network != "" && !aware.SupportsNetwork(network) {
			add(RuleNetwork, "protocol %s is not deployed on %s", selected.Name(), network)
		}
	}

	if slippage := in.Slippage(m.MaxSlippageBps); slippage > m.MaxSlippageBps {
		add(RuleSlippage, "slippage %d bps exceeds mandate ceiling %d bps", slippage, m.MaxSlippageBps)
	}
	if in.AmountIn.Cmp(m.MaxSpendPerIntent) > 0 {
		add(RuleMaxSpend, "amount %s exceeds per-intent limit %s", in.AmountIn, m.MaxSpendPerIntent)
	}
	if in.Type == intent.TypeSwap && m.RiskLevel == mandate.RiskLow && in.MinOut(in.Slippage(m.MaxSlippageBps)).IsZero() {
		add(RuleMinAmountOut, "low risk mandates require min_amount_out or expected_amount_out on swaps")
	}
	return selected, violations
}

func (c *Compiler) selectAdapter(in *intent.Intent, m *mandate.Mandate, add func(string, string, ...any)) adapter.Adapter {
	if in.Protocol != "" {
		a, ok := c.adapters.Get(in.Protocol)
		if !ok {
			add(RuleProtocol, "protocol %s is not registered", in.Protocol)
			return nil
		}
		if !a.Supports(in.Type) {
			add(RuleProtocol, "protocol %s does not support %s intents", a.Name(), in.Type)
			return nil
		}
		return a
	}
	allow := func(a adapter.Adapter) bool {
		return m.AllowsProtocol(a.Name()) && m.RiskLevel.Permits(a.Risk())
	}
	network := c.networkOf(m)
	a, err := c.adapters.Select(in.Type, network, allow)
	if err == nil {
		return a
	}
	if network != "" {
		if _, anyErr := c.adapters.Select(in.Type, "", allow); anyErr == nil {
			add(RuleNetwork, "no permitted protocol for %s intents is deployed on %s", in.Type, network)
			return nil
		}
	}
	add(RuleProtocol, "no permitted protocol supports %s intents", in.Type)
	return nil
}

// networkOf 返回授权所在的链，未指定时使用默认链。
func (c *Compiler) networkOf(m *mandate.Mandate) string {
	if network := strings.ToLower(strings.TrimSpace(m.Network)); network != "" {
		return network
	}
	return c.network
}

// IsConstraintError 判断错误是否为约束违规并返回详情。
func IsConstraintError(err error) (*ConstraintError, bool) {
	var ce *ConstraintError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
