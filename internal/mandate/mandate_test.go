package mandate

import (
	"testing"
	"time"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
)

const (
	ownerAddr = "0x1111111111111111111111111111111111111111"
	agentAddr = "0x2222222222222222222222222222222222222222"
	tokenA    = "0x3333333333333333333333333333333333333333"
	tokenB    = "0x4444444444444444444444444444444444444444"
)

func intPtr(v int) *int { return &v }

func fixedNow() time.Time { return time.Unix(1_700_000_000, 0) }

func baseRequest() RegisterRequest {
	return RegisterRequest{
		Owner:              ownerAddr,
		Agent:              agentAddr,
		MaxSpendPerIntent:  "1000",
		DailySpendLimit:    "2500",
		AllowedTokens:      []string{tokenA, tokenB, tokenA},
		AllowedProtocols:   []string{" Uniswap ", "aave"},
		AllowedIntentTypes: []string{"SWAP", "deposit"},
		RiskLevel:          "medium",
	}
}

func TestRegisterRequestBuildDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m, err := baseRequest().Build(now, 75)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected generated id")
	}
	if m.Status != StatusActive || m.RiskLevel != RiskMedium {
		t.Fatalf("unexpected status/risk: %s/%s", m.Status, m.RiskLevel)
	}
	if m.MaxSlippageBps != 75 {
		t.Fatalf("expected default slippage 75, got %d", m.MaxSlippageBps)
	}
	if len(m.AllowedTokens) != 2 {
		t.Fatalf("expected duplicate tokens removed, got %v", m.AllowedTokens)
	}
	if len(m.AllowedProtocols) != 2 || m.AllowedProtocols[0] != "uniswap" {
		t.Fatalf("unexpected protocols %v", m.AllowedProtocols)
	}
	if !m.AllowsType(intent.TypeSwap) || m.AllowsType(intent.TypeTransfer) {
		t.Fatalf("unexpected type whitelist %v", m.AllowedIntentTypes)
	}
	if m.CreatedAt != now.Unix() {
		t.Fatalf("created_at not stamped")
	}
}

func TestRegisterRequestBuildRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := map[string]func(*RegisterRequest){
		"missing owner":       func(r *RegisterRequest) { r.Owner = "" },
		"zero agent":          func(r *RegisterRequest) { r.Agent = "0x0000000000000000000000000000000000000000" },
		"zero max spend":      func(r *RegisterRequest) { r.MaxSpendPerIntent = "0" },
		"negative max spend":  func(r *RegisterRequest) { r.MaxSpendPerIntent = "-1" },
		"daily below per":     func(r *RegisterRequest) { r.DailySpendLimit = "10" },
		"bad token":           func(r *RegisterRequest) { r.AllowedTokens = []string{"usdc"} },
		"bad type":            func(r *RegisterRequest) { r.AllowedIntentTypes = []string{"borrow"} },
		"bad risk":            func(r *RegisterRequest) { r.RiskLevel = "extreme" },
		"slippage too large":  func(r *RegisterRequest) { r.MaxSlippageBps = intPtr(10_001) },
		"expiry in the past":  func(r *RegisterRequest) { r.ExpiresAt = now.Unix() - 1 },
		"blank protocol name": func(r *RegisterRequest) { r.AllowedProtocols = []string{"  "} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := baseRequest()
			mutate(&req)
			_, err := req.Build(now, 100)
			if err == nil {
				t.Fatal("expected error")
			}
			if !xerrors.HasCode(err, CodeMandateInvalid) {
				t.Fatalf("expected MANDATE_INVALID, got %v", err)
			}
		})
	}
}

func TestRiskLevelOrdering(t *testing.T) {
	if !RiskHigh.Permits(RiskLow) || !RiskMedium.Permits(RiskMedium) {
		t.Fatal("higher levels should permit lower ones")
	}
	if RiskLow.Permits(RiskMedium) {
		t.Fatal("low must not permit medium")
	}
	if RiskHigh.Permits(RiskLevel("unknown")) {
		t.Fatal("unknown levels are never permitted")
	}
	level, err := ParseRiskLevel("")
	if err != nil || level != RiskLow {
		t.Fatalf("empty risk level should default to low, got %s %v", level, err)
	}
}

func TestMandateActiveAndWhitelists(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m, err := baseRequest().Build(now, 100)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m.ExpiresAt = now.Add(time.Hour).Unix()
	if !m.Active(now) {
		t.Fatal("expected active mandate")
	}
	if m.Active(now.Add(2 * time.Hour)) {
		t.Fatal("expected expired mandate to be inactive")
	}
	if err := m.CheckActive(now.Add(2 * time.Hour)); !xerrors.HasCode(err, CodeMandateInactive) {
		t.Fatalf("expected MANDATE_INACTIVE, got %v", err)
	}
	if !m.AllowsToken("0x3333333333333333333333333333333333333333") {
		t.Fatal("token whitelist should match")
	}
	if m.AllowsToken("0x5555555555555555555555555555555555555555") {
		t.Fatal("token outside whitelist should be rejected")
	}
	if !m.AllowsProtocol("UNISWAP") || m.AllowsProtocol("curve") {
		t.Fatal("protocol whitelist mismatch")
	}

	open := m.Clone()
	open.AllowedTokens = nil
	open.AllowedProtocols = nil
	open.AllowedIntentTypes = nil
	if !open.AllowsToken(tokenB) || !open.AllowsProtocol("anything") || !open.AllowsType(intent.TypeTransfer) {
		t.Fatal("empty whitelists allow everything")
	}

	m.Status = StatusRevoked
	if m.Active(now) {
		t.Fatal("revoked mandate must not be active")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m, err := baseRequest().Build(time.Now(), 100)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m.Metadata = map[string]string{"desk": "alpha"}
	clone := m.Clone()
	clone.AllowedTokens[0] = tokenB
	clone.Metadata["desk"] = "beta"
	if m.AllowedTokens[0] != tokenA || m.Metadata["desk"] != "alpha" {
		t.Fatal("clone shares state with original")
	}
}
