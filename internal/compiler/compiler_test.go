package compiler

import (
	"context"
	"sort"
	"testing"
	"time"

	"IntentLayer-Lite/internal/adapter"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/pkg/units"
)

const (
	ownerAddr    = "0x1111111111111111111111111111111111111111"
	agentAddr    = "0x2222222222222222222222222222222222222222"
	tokenA       = "0x3333333333333333333333333333333333333333"
	tokenB       = "0x4444444444444444444444444444444444444444"
	strangerAddr = "0x7777777777777777777777777777777777777777"
)

const swapABI = `[{"type":"function","name":"swap","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
            {"name":"amountIn","type":"uint256"},{"name":"minOut","type":"uint256"},
            {"name":"to","type":"address"}],"outputs":[]}]`

type fixture struct {
	now      time.Time
	registry *mandate.Registry
	ledger   *mandate.MemoryLedger
	compiler *Compiler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ledger := mandate.NewMemoryLedger()
	registry := mandate.NewRegistry(mandate.NewMemoryStore(), ledger, mandate.WithClock(clock))

	adapters, err := adapter.NewRegistry(adapter.TransferAdapter{})
	if err != nil {
		t.Fatalf("adapter registry: %v", err)
	}
	for _, def := range []adapter.Definition{
		swapDefinition("router", "medium"),
		swapDefinition("safe-swap", "low"),
		swapDefinition("degen", "high"),
	} {
		a, err := adapter.NewABIAdapter(def)
		if err != nil {
			t.Fatalf("adapter %s: %v", def.Name, err)
		}
		if err := adapters.Register(a); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}

	return &fixture{
		now:      now,
		registry: registry,
		ledger:   ledger,
		compiler: New(registry, adapters, ledger, WithClock(clock), WithDefaultTTL(5*time.Minute)),
	}
}

func swapDefinition(name, risk string) adapter.Definition {
	return adapter.Definition{
		Name:   name,
		Types:  []string{"swap"},
		Risk:   risk,
		Target: "0x5555555555555555555555555555555555555555",
		ABI:    swapABI,
		Method: "swap",
		Args: []adapter.Binding{
			{Value: adapter.RefTokenIn}, {Value: adapter.RefTokenOut}, {Value: adapter.RefAmountIn},
			{Value: adapter.RefMinAmountOut}, {Value: adapter.RefRecipient},
		},
		Approve: true,
	}
}

func (f *fixture) register(t *testing.T, mutate func(*mandate.RegisterRequest)) *mandate.Mandate {
	t.Helper()
	req := mandate.RegisterRequest{
		Owner:             ownerAddr,
		Agent:             agentAddr,
		MaxSpendPerIntent: "1000",
		DailySpendLimit:   "1500",
		AllowedTokens:     []string{tokenA, tokenB},
		RiskLevel:         "medium",
	}
	if mutate != nil {
		mutate(&req)
	}
	m, err := f.registry.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("register mandate: %v", err)
	}
	return m
}

func swap(mandateID string) *intent.Intent {
	return &intent.Intent{
		ID:                "intent-1",
		MandateID:         mandateID,
		Agent:             agentAddr,
		Type:              intent.TypeSwap,
		TokenIn:           tokenA,
		TokenOut:          tokenB,
		AmountIn:          units.FromUint64(1000),
		ExpectedAmountOut: units.FromUint64(2000),
	}
}

func TestCompileReservesBudgetAndBuildsCalls(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, nil)

	plan, err := f.compiler.Compile(context.Background(), swap(m.ID))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if plan.Adapter != "router" {
		t.Fatalf("expected first permitted adapter by name, got %s", plan.Adapter)
	}
	if len(plan.Calls) != 2 {
		t.Fatalf("expected approve + swap, got %d", len(plan.Calls))
	}
	if plan.SlippageBps != 100 || plan.MinAmountOut.String() != "1980" {
		t.Fatalf("unexpected slippage/min out: %d %s", plan.SlippageBps, plan.MinAmountOut)
	}
	if plan.Reservation == nil || plan.Reservation.Window != "20260504" {
		t.Fatalf("expected reservation, got %+v", plan.Reservation)
	}
	spent, _ := f.ledger.Spent(context.Background(), m.ID, "20260504")
	if spent.String() != "1000" {
		t.Fatalf("expected 1000 reserved, got %s", spent)
	}

	if err := f.compiler.Release(context.Background(), plan); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.compiler.Release(context.Background(), plan); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	spent, _ = f.ledger.Spent(context.Background(), m.ID, "20260504")
	if !spent.IsZero() {
		t.Fatalf("expected budget returned, got %s", spent)
	}
}

func TestCompileCollectsAllViolations(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, func(r *mandate.RegisterRequest) {
		r.AllowedTokens = []string{tokenA}
		r.MaxSlippageBps = intPtr(50)
	})

	in := swap(m.ID)
	in.Agent = strangerAddr
	in.Recipient = strangerAddr
	in.AmountIn = units.FromUint64(5000)
	in.SlippageBps = intPtr(300)

	_, err := f.compiler.Compile(context.Background(), in)
	ce, ok := IsConstraintError(err)
	if !ok {
		t.Fatalf("expected constraint error, got %v", err)
	}
	rules := ce.Rules()
	sort.Strings(rules)
	want := []string{RuleAgent, RuleMaxSpend, RuleRecipient, RuleSlippage, RuleToken}
	sort.Strings(want)
	if len(rules) != len(want) {
		t.Fatalf("unexpected rules %v", rules)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Fatalf("unexpected rules %v, want %v", rules, want)
		}
	}
	if !xerrors.HasCode(err, CodeConstraintViolation) || xerrors.RetryableError(err) {
		t.Fatalf("constraint errors are coded and terminal: %v", err)
	}
	spent, _ := f.ledger.Spent(context.Background(), m.ID, "20260504")
	if !spent.IsZero() {
		t.Fatal("rejected intents must not reserve budget")
	}
}

func TestCompileLowRiskSwapNeedsMinOut(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, func(r *mandate.RegisterRequest) { r.RiskLevel = "low" })

	in := swap(m.ID)
	in.ExpectedAmountOut = units.Amount{}
	_, err := f.compiler.Compile(context.Background(), in)
	ce, ok := IsConstraintError(err)
	if !ok || len(ce.Violations) != 1 || ce.Violations[0].Rule != RuleMinAmountOut {
		t.Fatalf("expected min_amount_out violation, got %v", err)
	}

	in.MinAmountOut = units.FromUint64(1)
	plan, err := f.compiler.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if plan.Adapter != "safe-swap" {
		t.Fatalf("low risk mandate should select low risk adapter, got %s", plan.Adapter)
	}
}

func TestCompileExplicitProtocolAboveRisk(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, nil)

	in := swap(m.ID)
	in.Protocol = "DEGEN"
	_, err := f.compiler.Compile(context.Background(), in)
	ce, ok := IsConstraintError(err)
	if !ok || ce.Violations[0].Rule != RuleRiskLevel {
		t.Fatalf("expected risk violation, got %v", err)
	}

	in.Protocol = "unknown"
	_, err = f.compiler.Compile(context.Background(), in)
	if ce, ok := IsConstraintError(err); !ok || ce.Violations[0].Rule != RuleProtocol {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestCompileDailyBudget(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, nil)

	if _, err := f.compiler.Compile(context.Background(), swap(m.ID)); err != nil {
		t.Fatalf("first compile: %v", err)
	}
	_, err := f.compiler.Compile(context.Background(), swap(m.ID))
	if !xerrors.HasCode(err, mandate.CodeBudgetExceeded) {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
}

func TestPreviewDoesNotReserve(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, nil)

	for i := 0; i < 3; i++ {
		plan, err := f.compiler.Preview(context.Background(), swap(m.ID))
		if err != nil {
			t.Fatalf("preview %d: %v", i, err)
		}
		if plan.Reservation != nil {
			t.Fatal("preview must not reserve")
		}
	}
}

func TestCompileRejectsInactiveMandates(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, nil)
	if _, err := f.registry.Revoke(context.Background(), m.ID, "rotation"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err := f.compiler.Compile(context.Background(), swap(m.ID))
	if !xerrors.HasCode(err, mandate.CodeMandateInactive) {
		t.Fatalf("expected inactive mandate, got %v", err)
	}

	_, err = f.compiler.Compile(context.Background(), swap("missing"))
	if !mandate.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompileTransferUsesBuiltinAdapter(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, func(r *mandate.RegisterRequest) { r.RiskLevel = "low" })

	plan, err := f.compiler.Compile(context.Background(), &intent.Intent{
		MandateID: m.ID,
		Agent:     agentAddr,
		Type:      intent.TypeTransfer,
		TokenIn:   tokenA,
		AmountIn:  units.FromUint64(10),
		Recipient: strangerAddr,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if plan.Adapter != adapter.TransferAdapterName || len(plan.Calls) != 1 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestCompileNetworkNotSupportedOnDefaultChain(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, nil)

	def := swapDefinition("base-only", "medium")
	def.Networks = []string{"base-sepolia"}
	baseOnly, err := adapter.NewABIAdapter(def)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	adapters, err := adapter.NewRegistry(baseOnly)
	if err != nil {
		t.Fatalf("adapter registry: %v", err)
	}
	clock := func() time.Time { return f.now }
	comp := New(f.registry, adapters, f.ledger, WithClock(clock), WithDefaultNetwork("Sepolia"))

	_, err = comp.Compile(context.Background(), swap(m.ID))
	ce, ok := IsConstraintError(err)
	if !ok || len(ce.Violations) != 1 || ce.Violations[0].Rule != RuleNetwork {
		t.Fatalf("expected network_not_supported for selected adapter, got %v", err)
	}

	in := swap(m.ID)
	in.Protocol = "base-only"
	_, err = comp.Compile(context.Background(), in)
	ce, ok = IsConstraintError(err)
	if !ok || len(ce.Violations) != 1 || ce.Violations[0].Rule != RuleNetwork {
		t.Fatalf("expected network_not_supported for explicit protocol, got %v", err)
	}
	spent, _ := f.ledger.Spent(context.Background(), m.ID, "20260504")
	if !spent.IsZero() {
		t.Fatal("network violations must not reserve budget")
	}

	onBase := New(f.registry, adapters, f.ledger, WithClock(clock), WithDefaultNetwork("base-sepolia"))
	plan, err := onBase.Preview(context.Background(), swap(m.ID))
	if err != nil {
		t.Fatalf("preview on base-sepolia: %v", err)
	}
	if plan.Network != "base-sepolia" || plan.Adapter != "base-only" {
		t.Fatalf("unexpected plan network %q adapter %q", plan.Network, plan.Adapter)
	}
}

func intPtr(v int) *int { return &v }
